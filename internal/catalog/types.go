package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ProbePath is the repository index fetched from every mirror to measure latency.
const ProbePath = "core/os/x86_64/core.db.tar.gz"

// Protocol is the transport a mirror is served over.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
	ProtocolRsync Protocol = "rsync"
	ProtocolFTP   Protocol = "ftp"
)

// ParseProtocol normalizes a protocol name. Unknown names are kept verbatim
// so catalogs that grow new transports still load.
func ParseProtocol(s string) Protocol {
	return Protocol(strings.ToLower(strings.TrimSpace(s)))
}

// IPVersion selects the address family a mirror must support.
type IPVersion int

const (
	IPv4 IPVersion = 4
	IPv6 IPVersion = 6
)

// ParseIPVersion accepts "4", "6", "ipv4" or "ipv6".
func ParseIPVersion(s string) (IPVersion, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "4", "ipv4", "v4":
		return IPv4, nil
	case "6", "ipv6", "v6":
		return IPv6, nil
	default:
		return 0, fmt.Errorf("unsupported IP version %q", s)
	}
}

func (v IPVersion) String() string {
	return fmt.Sprintf("ipv%d", int(v))
}

// Reliability is the upstream sync score of a mirror. A mirror the status
// checker has no measurement for carries an absent Reliability.
type Reliability struct {
	value   float64
	present bool
}

// SomeReliability returns a present score.
func SomeReliability(v float64) Reliability {
	return Reliability{value: v, present: true}
}

// NoReliability returns an absent score.
func NoReliability() Reliability {
	return Reliability{}
}

// Value returns the score and whether it is present.
func (r Reliability) Value() (float64, bool) {
	return r.value, r.present
}

// Present reports whether the score was measured.
func (r Reliability) Present() bool {
	return r.present
}

func (r Reliability) String() string {
	if !r.present {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", r.value)
}

// UnmarshalJSON decodes a number or null.
func (r *Reliability) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*r = NoReliability()
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decoding score: %w", err)
	}
	*r = SomeReliability(v)
	return nil
}

// MarshalJSON encodes an absent score as null.
func (r Reliability) MarshalJSON() ([]byte, error) {
	if !r.present {
		return []byte("null"), nil
	}
	return json.Marshal(r.value)
}

// MirrorRecord is one entry of the mirror status catalog.
type MirrorRecord struct {
	URL            string      `json:"url"`
	Protocol       Protocol    `json:"protocol"`
	LastSync       *string     `json:"last_sync"`
	CompletionPct  *float64    `json:"completion_pct"`
	Delay          *int64      `json:"delay"`
	DurationAvg    *float64    `json:"duration_avg"`
	DurationStddev *float64    `json:"duration_stddev"`
	Score          Reliability `json:"score"`
	Active         bool        `json:"active"`
	Country        string      `json:"country"`
	CountryCode    string      `json:"country_code"`
	ISOs           bool        `json:"isos"`
	IPv4           bool        `json:"ipv4"`
	IPv6           bool        `json:"ipv6"`
	Details        string      `json:"details"`
}

// SupportsIP reports whether the mirror serves the given address family.
func (m MirrorRecord) SupportsIP(v IPVersion) bool {
	switch v {
	case IPv4:
		return m.IPv4
	case IPv6:
		return m.IPv6
	default:
		return false
	}
}

// BaseURL returns the mirror URL with exactly one trailing slash.
func (m MirrorRecord) BaseURL() string {
	return strings.TrimRight(m.URL, "/") + "/"
}

// ProbeTarget is the URL fetched to measure the mirror's latency.
func (m MirrorRecord) ProbeTarget() string {
	return m.BaseURL() + ProbePath
}

// Catalog is the parsed mirror status document.
type Catalog struct {
	Cutoff         int64          `json:"cutoff"`
	LastCheck      string         `json:"last_check"`
	NumChecks      int            `json:"num_checks"`
	CheckFrequency int64          `json:"check_frequency"`
	Version        int            `json:"version"`
	Mirrors        []MirrorRecord `json:"urls"`
}
