package inventory

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidIID = errors.New("inventory: invalid installation id")
	ErrInvalidMAC = errors.New("inventory: invalid mac address")
)

var (
	iidPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)
	macPattern = regexp.MustCompile(`^[0-9a-fA-F]{12}$`)
)

// ValidIID reports whether iid can name an inventory directory.
func ValidIID(iid string) bool {
	return iidPattern.MatchString(iid)
}

// CheckIn is what a device reports when it polls for firmware.
type CheckIn struct {
	MAC         string
	IID         string
	Board       string
	Firmware    string
	ReleaseDate string
	Master      *bool
	Remote      *bool
}

// ParseCheckIn reads the device query string.
func ParseCheckIn(q url.Values) (CheckIn, error) {
	c := CheckIn{
		MAC:         strings.ToLower(strings.TrimSpace(q.Get("mac"))),
		IID:         strings.TrimSpace(q.Get("iid")),
		Board:       q.Get("board"),
		Firmware:    q.Get("firmware"),
		ReleaseDate: q.Get("releasedate"),
	}
	if !macPattern.MatchString(c.MAC) {
		return CheckIn{}, fmt.Errorf("%w: %q", ErrInvalidMAC, c.MAC)
	}
	if !ValidIID(c.IID) {
		return CheckIn{}, fmt.Errorf("%w: %q", ErrInvalidIID, c.IID)
	}
	for key, dst := range map[string]**bool{"master": &c.Master, "remote": &c.Remote} {
		if v := q.Get(key); v != "" {
			b := flag(v)
			*dst = &b
		}
	}
	return c, nil
}

// Store owns the inventory directory tree.
type Store struct {
	dir    string
	latest map[string]string // board -> firmware version offered
	now    func() time.Time
	mu     sync.Mutex
}

func NewStore(dir string, latest map[string]string) *Store {
	return &Store{dir: dir, latest: latest, now: time.Now}
}

// List returns the sorted devices of one installation.
func (s *Store) List(iid string) ([]Device, error) {
	if !ValidIID(iid) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIID, iid)
	}
	devices, err := Load(filepath.Join(s.dir, iid))
	if err != nil {
		return nil, err
	}
	Sort(devices)
	return devices, nil
}

// CheckIn merges c into the device's record and returns the firmware
// answer "<version>:<size>".
func (s *Store) CheckIn(c CheckIn) (string, error) {
	if !ValidIID(c.IID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIID, c.IID)
	}
	if !macPattern.MatchString(c.MAC) {
		return "", fmt.Errorf("%w: %q", ErrInvalidMAC, c.MAC)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.dir, c.IID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	path := filepath.Join(dir, c.MAC+".ini")

	rec := make(Record)
	if data, err := os.ReadFile(path); err == nil {
		rec = ParseRecord(data)
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read record: %w", err)
	}

	rec["mac"] = c.MAC
	if _, ok := rec["uniqueid"]; !ok {
		rec["uniqueid"] = c.MAC
	}
	set := func(k, v string) {
		if v != "" {
			rec[k] = v
		}
	}
	set("board", c.Board)
	set("firmware", c.Firmware)
	set("releasedate", c.ReleaseDate)
	if c.Master != nil {
		rec["master"] = boolDigit(*c.Master)
	}
	if c.Remote != nil {
		rec["remote"] = boolDigit(*c.Remote)
	}
	rec["update"] = strconv.FormatInt(s.now().Unix(), 10)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, rec.Encode(), 0o644); err != nil {
		return "", fmt.Errorf("write record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("write record: %w", err)
	}

	version := c.Firmware
	if v, ok := s.latest[c.Board]; ok && v != "" {
		version = v
	}
	log.Info().
		Str("iid", c.IID).
		Str("mac", c.MAC).
		Str("board", c.Board).
		Str("firmware", c.Firmware).
		Str("offered", version).
		Msg("device check-in")
	return version + ":0", nil
}

func boolDigit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
