package treetank

import "os"
import "log/slog"
import "path/filepath"

import "gopkg.in/yaml.v2"
import "golang.org/x/xerrors"

// Config is the file form of the resource settings, eg.
//
//	backend: disk            # disk, bolt or memory
//	path: /var/lib/treetank
//	revisioning: incremental # fulldump, incremental or slidingsnapshot
//	revisions: 8             # chain length of incremental, window of slidingsnapshot
//	compression: snappy
//	verify_hashes: true
//	cache_size: 256
type Config struct {
	Backend      string `yaml:"backend"`
	Path         string `yaml:"path"`
	Revisioning  string `yaml:"revisioning"`
	Revisions    int    `yaml:"revisions"`
	Compression  string `yaml:"compression"`
	VerifyHashes bool   `yaml:"verify_hashes"`
	CacheSize    int    `yaml:"cache_size"`
	NoSync       bool   `yaml:"nosync"` // bolt only
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("reading config %s: %w", path, err)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, xerrors.Errorf("%w: config: %s", ErrInvalidArgument, err)
	}
	return &c, nil
}

// RevisioningStrategy maps the configured name and parameter to a strategy
func (c *Config) RevisioningStrategy() (Revisioning, error) {
	var r Revisioning
	switch c.Revisioning {
	case "fulldump":
		r = FullDump{}
	case "", "incremental":
		n := c.Revisions
		if n == 0 {
			n = DEFAULT_MAX_CHAIN
		}
		r = Incremental{MaxChain: n}
	case "slidingsnapshot":
		n := c.Revisions
		if n == 0 {
			n = DEFAULT_MAX_CHAIN
		}
		r = SlidingSnapshot{Window: n}
	default:
		return nil, xerrors.Errorf("%w: unknown revisioning %q", ErrInvalidArgument, c.Revisioning)
	}
	return r, checkRevisioning(r)
}

// Options builds resource options, the factories are not part of the file. Without revisioning
// settings an existing resource is opened with its stored strategy.
func (c *Config) Options(items ItemFactory, metas MetaEntryFactory, logger *slog.Logger) (Options, error) {
	var r Revisioning
	if c.Revisioning != "" || c.Revisions != 0 {
		var err error
		if r, err = c.RevisioningStrategy(); err != nil {
			return Options{}, err
		}
	}
	comp, err := ParseCompression(c.Compression)
	if err != nil {
		return Options{}, err
	}
	return Options{
		ItemFactory:  items,
		MetaFactory:  metas,
		Revisioning:  r,
		VerifyHashes: c.VerifyHashes,
		Compression:  comp,
		CacheSize:    c.CacheSize,
		Logger:       logger,
	}, nil
}

// OpenBackend opens the configured backend
func (c *Config) OpenBackend(logger *slog.Logger) (Backend, error) {
	switch c.Backend {
	case "memory":
		return NewMemStore()
	case "", "disk":
		if c.Path == "" {
			return nil, xerrors.Errorf("%w: disk backend needs a path", ErrInvalidArgument)
		}
		return OpenDiskStore(c.Path, logger)
	case "bolt":
		if c.Path == "" {
			return nil, xerrors.Errorf("%w: bolt backend needs a path", ErrInvalidArgument)
		}
		if err := os.MkdirAll(filepath.Dir(c.Path), 0700); err != nil {
			return nil, err
		}
		return NewBoltStore(c.Path, BoltOptions{NoSync: c.NoSync})
	default:
		return nil, xerrors.Errorf("%w: unknown backend %q", ErrInvalidArgument, c.Backend)
	}
}
