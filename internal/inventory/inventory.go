// Package inventory reads and writes the per-device check-in records that
// feed the device dashboard. Each device owns one <mac>.ini file of
// key=value lines under a directory per installation id.
package inventory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Record is one parsed key=value file.
type Record map[string]string

// ParseRecord reads key=value lines. Lines without '=' are ignored and only
// the first '=' splits.
func ParseRecord(data []byte) Record {
	r := make(Record)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		r[k] = v
	}
	return r
}

// Encode writes the record back as sorted key=value lines.
func (r Record) Encode() []byte {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(r[k])
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// Device is the dashboard view of one record.
type Device struct {
	UniqueID    string    `json:"unique_id" yaml:"unique_id"`
	MAC         string    `json:"mac" yaml:"mac"`
	Firmware    string    `json:"firmware" yaml:"firmware"`
	ReleaseDate string    `json:"release_date" yaml:"release_date"`
	Board       string    `json:"board" yaml:"board"`
	Master      bool      `json:"master" yaml:"master"`
	Remote      bool      `json:"remote" yaml:"remote"`
	Updated     time.Time `json:"updated" yaml:"updated"`
}

const unknown = "?"

// FromRecord fills a Device, using "?" for missing text fields.
func FromRecord(r Record) Device {
	get := func(k, def string) string {
		if v, ok := r[k]; ok {
			return v
		}
		return def
	}
	d := Device{
		UniqueID:    get("uniqueid", unknown),
		MAC:         FormatMAC(get("mac", "????????????")),
		Firmware:    get("firmware", unknown),
		ReleaseDate: get("releasedate", unknown),
		Board:       get("board", unknown),
		Master:      flag(r["master"]),
		Remote:      flag(r["remote"]),
	}
	if sec, err := strconv.ParseInt(strings.TrimSpace(r["update"]), 10, 64); err == nil {
		d.Updated = time.Unix(sec, 0)
	}
	return d
}

func flag(v string) bool {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	return err == nil && n == 1
}

// FormatMAC inserts ':' after every two characters.
func FormatMAC(mac string) string {
	var b strings.Builder
	for i := 0; i < len(mac); i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		end := i + 2
		if end > len(mac) {
			end = len(mac)
		}
		b.WriteString(mac[i:end])
	}
	return b.String()
}

// Load reads every *.ini file (extension matched case-insensitively) in
// dir. A missing directory yields no devices.
func Load(dir string) ([]Device, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read inventory %s: %w", dir, err)
	}

	var devices []Device
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".ini") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read record %s: %w", e.Name(), err)
		}
		devices = append(devices, FromRecord(ParseRecord(data)))
	}
	return devices, nil
}

// Sort orders devices by most recent update first, then by firmware.
func Sort(devices []Device) {
	sort.SliceStable(devices, func(i, j int) bool {
		a, b := devices[i], devices[j]
		if !a.Updated.Equal(b.Updated) {
			return a.Updated.After(b.Updated)
		}
		return a.Firmware < b.Firmware
	})
}
