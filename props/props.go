// Package props is the agent's process-wide property table, the analogue of
// a JVM's system properties. Lookups consult, in order, runtime overrides,
// the properties file and built-in defaults. Keys are case-insensitive.
package props

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/aethiopicuschan/zapcat/logger"
)

// ProtocolKey selects the wire protocol version for responses.
const ProtocolKey = "zabbix.protocol"

// Store is safe for concurrent use. The file layer is an immutable viper
// snapshot that is swapped whole on reload.
type Store struct {
	path     string
	logger   logger.Logger
	defaults map[string]string

	mu        sync.RWMutex
	overrides map[string]string

	file atomic.Pointer[viper.Viper]
}

// New builds a Store over defaults and, when path is not empty, the file at
// path. Any format viper reads is accepted, Java-style .properties included.
func New(path string, defaults map[string]string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NopLogger
	}
	path, err := expandPath(path)
	if err != nil {
		return nil, err
	}
	s := &Store{
		path:      path,
		logger:    log,
		defaults:  make(map[string]string, len(defaults)),
		overrides: make(map[string]string),
	}
	for k, v := range defaults {
		s.defaults[normalize(k)] = v
	}
	if path != "" {
		if err := s.Reload(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func normalize(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Property returns the value of key and whether it is set in any layer.
func (s *Store) Property(key string) (string, bool) {
	key = normalize(key)
	if key == "" {
		return "", false
	}

	s.mu.RLock()
	v, ok := s.overrides[key]
	s.mu.RUnlock()
	if ok {
		return v, true
	}

	if f := s.file.Load(); f != nil && f.IsSet(key) {
		return f.GetString(key), true
	}

	v, ok = s.defaults[key]
	return v, ok
}

// Set overrides key until Clear is called.
func (s *Store) Set(key, value string) {
	s.mu.Lock()
	s.overrides[normalize(key)] = value
	s.mu.Unlock()
}

// Clear removes a runtime override of key.
func (s *Store) Clear(key string) {
	s.mu.Lock()
	delete(s.overrides, normalize(key))
	s.mu.Unlock()
}

// Reload rereads the properties file. On failure the previous snapshot is
// kept.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	v := viper.New()
	v.SetConfigFile(s.path)
	if strings.EqualFold(filepath.Ext(s.path), ".env") {
		v.SetConfigType("dotenv")
	}
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "reading properties from %s", s.path)
	}
	s.file.Store(v)
	s.logger.Debugf("loaded %d properties from %s", len(v.AllKeys()), s.path)
	return nil
}

// Watch reloads the properties file whenever it changes on disk.
func (s *Store) Watch() {
	if s.path == "" {
		return
	}
	w := viper.New()
	w.SetConfigFile(s.path)
	w.OnConfigChange(func(e fsnotify.Event) {
		if err := s.Reload(); err != nil {
			s.logger.Warnf("keeping previous properties: %v", err)
			return
		}
		s.logger.Infof("reloaded properties after %s", e.Op)
	})
	w.WatchConfig()
}

// SystemDefaults returns the built-in properties describing the running
// process, with the protocol property set to protocol when not empty.
func SystemDefaults(protocol string) map[string]string {
	d := map[string]string{
		"os.name":        runtime.GOOS,
		"os.arch":        runtime.GOARCH,
		"go.version":     runtime.Version(),
		"file.separator": string(filepath.Separator),
		"path.separator": string(filepath.ListSeparator),
		"line.separator": "\n",
	}
	if runtime.GOOS == "windows" {
		d["line.separator"] = "\r\n"
	}
	if u, err := user.Current(); err == nil {
		d["user.name"] = u.Username
		d["user.home"] = u.HomeDir
	}
	if wd, err := os.Getwd(); err == nil {
		d["user.dir"] = wd
	}
	if protocol != "" {
		d[ProtocolKey] = protocol
	}
	return d
}
