package ruddr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// AddrKey identifies one record in the addrfile: which updater published
// it, for which address family, and for which target (hostname, domain, or
// whatever the provider calls the thing being updated).
type AddrKey struct {
	Updater string
	Family  Family
	Target  string
}

func (k AddrKey) String() string {
	return k.Updater + "/" + k.Family.String() + "/" + k.Target
}

// Addrfile is the persistent record of the last address each updater
// confirmed published, used to skip redundant publishes across restarts.
//
// An entry exists only after a publish was confirmed successful. A failed
// or indeterminate attempt deletes the entry, because the provider's true
// state after a failed request is unknown; the system prefers a redundant
// re-publish over risking a stuck stale record.
//
// All methods are safe for concurrent use. The internal lock is held only
// for the duration of a single call, never across network I/O.
type Addrfile struct {
	path string
	log  *zap.Logger

	mu      sync.Mutex
	entries map[AddrKey]netip.Prefix
}

// OpenAddrfile loads the addrfile at path, creating parent directories on
// the first write. A missing or corrupt file is not an error: unreadable
// entries are dropped individually and the store starts out empty-ish,
// which only costs a redundant re-publish.
func OpenAddrfile(path string, logger *zap.Logger) *Addrfile {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Addrfile{
		path:    path,
		log:     logger.Named("addrfile"),
		entries: make(map[AddrKey]netip.Prefix),
	}
	f.load()
	return f
}

func (f *Addrfile) load() {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.log.Warn("could not read addrfile; starting with no entries",
				zap.String("path", f.path), zap.Error(err))
		}
		return
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		f.log.Warn("malformed addrfile; will recreate",
			zap.String("path", f.path), zap.Error(err))
		return
	}
	for k, v := range raw {
		key, err := parseAddrKey(k)
		if err != nil {
			f.log.Warn("ignoring malformed addrfile key",
				zap.String("key", k), zap.Error(err))
			continue
		}
		p, err := parseAddrValue(key.Family, v)
		if err != nil {
			f.log.Warn("ignoring malformed addrfile entry",
				zap.String("key", k), zap.Error(err))
			continue
		}
		f.entries[key] = p
	}
}

func parseAddrKey(s string) (AddrKey, error) {
	parts := strings.SplitN(s, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return AddrKey{}, fmt.Errorf("want updater/family/target, got %q", s)
	}
	var fam Family
	switch parts[1] {
	case "ipv4":
		fam = IPv4
	case "ipv6":
		fam = IPv6
	default:
		return AddrKey{}, fmt.Errorf("unknown family %q", parts[1])
	}
	return AddrKey{Updater: parts[0], Family: fam, Target: parts[2]}, nil
}

func parseAddrValue(fam Family, s string) (netip.Prefix, error) {
	var p netip.Prefix
	if strings.ContainsRune(s, '/') {
		var err error
		p, err = netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
	} else {
		a, err := netip.ParseAddr(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		p = netip.PrefixFrom(a, a.BitLen())
	}
	if (fam == IPv4) != p.Addr().Is4() {
		return netip.Prefix{}, fmt.Errorf("address %s does not match family %s", s, fam)
	}
	return canonical(p), nil
}

// Get returns the last confirmed published address for key, if any.
func (f *Addrfile) Get(key AddrKey) (netip.Prefix, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.entries[key]
	return p, ok
}

// Set records addr as confirmed published for key. The entry is durably
// persisted before Set returns.
func (f *Addrfile) Set(key AddrKey, addr netip.Prefix) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = canonical(addr)
	return f.write()
}

// Invalidate removes any entry for key, durably, so a crash can never
// leave a false "confirmed" record behind a failed publish.
func (f *Addrfile) Invalidate(key AddrKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[key]; !ok {
		return nil
	}
	delete(f.entries, key)
	return f.write()
}

// write persists the entries with write-to-temp-then-rename so a crash
// mid-write cannot corrupt the existing file. Callers must hold f.mu.
func (f *Addrfile) write() error {
	raw := make(map[string]string, len(f.entries))
	for k, v := range f.entries {
		if v.Bits() == v.Addr().BitLen() {
			raw[k.String()] = v.Addr().String()
		} else {
			raw[k.String()] = v.String()
		}
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding addrfile: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating addrfile directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("creating addrfile temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err = tmp.Write(data); err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing addrfile: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing addrfile: %w", err)
	}
	return nil
}
