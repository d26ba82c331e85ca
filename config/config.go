// Package config loads the two persisted layouts of spec §6: the hoard
// directory's own config file (storage settings plus the cave registry) and
// each cave's small metadata folder. The hoard config is TOML, since a
// nested list of cave records does not fit a flat `key value` line format
// without inventing a sub-format; the per-cave metadata folder keeps a
// bare-value file convention (one secret, no key= prefix).
package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/madcowbg/hoard/registry"
	"github.com/madcowbg/hoard/storage"
)

// DefaultBaseDirectoryPath is where hoard commands store configuration and
// data by default, overridable with the HOARD_BASE environment variable.
var DefaultBaseDirectoryPath string

func init() {
	if base := os.Getenv("HOARD_BASE"); base != "" {
		DefaultBaseDirectoryPath = base
	} else {
		DefaultBaseDirectoryPath = os.ExpandEnv("$HOME/lib/hoard")
	}
}

// ErrUninitializedRepo is returned when a cave's root has no metadata folder
// (spec §7 UninitializedRepo).
var ErrUninitializedRepo = errors.New("uninitialized cave")

const (
	metadataDirName = ".hoard"
	uuidFileName    = "uuid"
	hoardConfigName = "config"
)

// CaveEntry is one row of the hoard's cave registry (spec §3 Cave record,
// persisted subset: §6 "The hoard config lists caves (uuid, name,
// mount_point, role, fetch_new)").
type CaveEntry struct {
	UUID       string `toml:"uuid"`
	Name       string `toml:"name"`
	Role       string `toml:"role"`
	MountPoint string `toml:"mount_point"`
	FetchNew   bool   `toml:"fetch_new"`

	// Root is the cave's physical directory on this machine, if reachable
	// from it. It plays no part in reconciliation (mount_point is the only
	// path bookkeeping the engine needs) and is consulted only by cmd/hoard
	// on this host: the local fetcher when a push is executed, and hoard
	// daemon when it watches and rescans a cave.
	Root string `toml:"root"`
}

// C is the hoard directory's own configuration: where its object and ref
// stores live, which permanent storage backs a BACKUP cave's cloud archive,
// and the cave registry itself.
type C struct {
	// Storage selects the permanent backing store for storage.Paired:
	// "disk" or "s3".
	Storage storage.Kind `toml:"storage"`

	// DiskStoreDir backs a "disk" Storage. Relative paths are resolved
	// against the hoard base directory.
	DiskStoreDir string `toml:"disk_store_dir"`

	// S3Profile, S3Region and S3Bucket back an "s3" Storage.
	S3Profile string `toml:"s3_profile"`
	S3Region  string `toml:"s3_region"`
	S3Bucket  string `toml:"s3_bucket"`

	Caves []CaveEntry `toml:"caves"`

	base string
}

// Load reads base/config as TOML (spec §6 persisted layout).
func Load(base string) (*C, error) {
	filename := filepath.Join(base, hoardConfigName)
	var c C
	if _, err := toml.DecodeFile(filename, &c); err != nil {
		return nil, errors.Wrapf(err, "config.Load %q", filename)
	}
	c.base = base
	if c.DiskStoreDir != "" && !filepath.IsAbs(c.DiskStoreDir) {
		c.DiskStoreDir = filepath.Clean(filepath.Join(c.base, c.DiskStoreDir))
	}
	return &c, nil
}

// Save writes c to base/config as TOML, overwriting any existing file.
func Save(base string, c *C) error {
	filename := filepath.Join(base, hoardConfigName)
	f, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "config.Save %q", filename)
	}
	defer func() { _ = f.Close() }()
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return errors.Wrapf(err, "config.Save %q", filename)
	}
	return nil
}

// Initialize generates an initial configuration at baseDir: disk-backed
// storage by default, no secrets to generate now that encryption is an
// explicit non-goal.
func Initialize(baseDir string) error {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return errors.Wrapf(err, "config.Initialize: mkdir %q", baseDir)
	}
	filename := filepath.Join(baseDir, hoardConfigName)
	if _, err := os.Stat(filename); err == nil {
		return errors.Errorf("%q: already exists", filename)
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, "%q: could not determine if it exists", filename)
	}
	c := &C{Storage: storage.KindDisk, DiskStoreDir: "permanent"}
	return Save(baseDir, c)
}

// ToStorageConfig projects c into the plain storage.Config that
// storage.New needs to build the permanent tier (storage.Config exists
// precisely so storage does not need to import config back).
func (c *C) ToStorageConfig() storage.Config {
	return storage.Config{
		Storage:      c.Storage,
		DiskStoreDir: c.DiskStoreDir,
		S3Profile:    c.S3Profile,
		S3Region:     c.S3Region,
		S3Bucket:     c.S3Bucket,
	}
}

// CacheDirectoryPath is where the local object-store/ref-store databases
// live (spec §6: "one object-store database and one ref-store database").
func (c *C) CacheDirectoryPath() string {
	return filepath.Join(c.base, "cache")
}

// ObjectStoreDirectoryPath is the disk location of the object store
// ("objects" under CacheDirectoryPath).
func (c *C) ObjectStoreDirectoryPath() string {
	return filepath.Join(c.CacheDirectoryPath(), "objects")
}

// RefStoreDirectoryPath is the disk location of the ref store.
func (c *C) RefStoreDirectoryPath() string {
	return filepath.Join(c.CacheDirectoryPath(), "refs")
}

// BlobCacheDirectoryPath is the local fast tier storage.Paired keeps in
// front of a BACKUP cave's permanent archive (disk or s3, per Storage).
func (c *C) BlobCacheDirectoryPath() string {
	return filepath.Join(c.CacheDirectoryPath(), "blobs")
}

// BlobPropagationLogPath tracks which blobs storage.Paired still owes the
// permanent tier, surviving process restarts (storage.newPropagationLog).
func (c *C) BlobPropagationLogPath() string {
	return filepath.Join(c.CacheDirectoryPath(), "blob-propagation.log")
}

// BuildRegistry materializes c's caves into a fresh registry.Registry (spec
// §4.6; registry.AddRemote validates role, duplicate uuid/name, mount
// overlap).
func (c *C) BuildRegistry() (*registry.Registry, error) {
	reg := registry.NewRegistry()
	for _, ce := range c.Caves {
		if _, err := reg.AddRemote(ce.UUID, ce.Name, registry.Role(ce.Role), ce.MountPoint, ce.FetchNew); err != nil {
			return nil, errors.Wrapf(err, "cave %q", ce.Name)
		}
	}
	return reg, nil
}

// SetCavesFromRegistry replaces c.Caves with a snapshot of reg, preserving
// registry.List's uuid ordering, ready for Save.
func (c *C) SetCavesFromRegistry(reg *registry.Registry) {
	c.Caves = nil
	for _, cv := range reg.List() {
		c.Caves = append(c.Caves, CaveEntry{
			UUID:       cv.UUID,
			Name:       cv.Name,
			Role:       string(cv.Role),
			MountPoint: cv.MountPoint,
			FetchNew:   cv.FetchNew,
		})
	}
}

// InitCaveMetadata creates root's metadata folder and writes its uuid file,
// one value per line with no key= prefix.
func InitCaveMetadata(root string, uuid string) error {
	dir := filepath.Join(root, metadataDirName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrapf(err, "config.InitCaveMetadata %q", dir)
	}
	return ioutil.WriteFile(filepath.Join(dir, uuidFileName), []byte(uuid+"\n"), 0600)
}

// LoadCaveUUID reads root's metadata folder and returns its uuid, or
// ErrUninitializedRepo if the folder is absent (spec §7 UninitializedRepo).
func LoadCaveUUID(root string) (string, error) {
	filename := filepath.Join(root, metadataDirName, uuidFileName)
	b, err := ioutil.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.Wrapf(ErrUninitializedRepo, root)
		}
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// MetadataDirName is the basename of a cave's metadata folder, for callers
// (the scanner) that need to exclude it from a filesystem walk.
func MetadataDirName() string { return metadataDirName }

// CaveInitialized reports whether root already has a metadata folder.
func CaveInitialized(root string) bool {
	_, err := os.Stat(filepath.Join(root, metadataDirName, uuidFileName))
	return err == nil
}
