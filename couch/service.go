package couch

import (
	"context"
	"fmt"
	_ "github.com/go-kivik/couchdb/v3"
	"github.com/go-kivik/kivik/v3"
	"github.com/jt05610/flowchem/profile"
	"net/http"
	"os"
)

var _ profile.Store = (*Store)(nil)

// DefaultDB holds the profile documents.
const DefaultDB = "flowchem_profiles"

const (
	mcuDoc   = "mcus"
	motorDoc = "motors"
)

// Store keeps the MCU and motor lists as two CouchDB documents, each replaced
// whole on save.
type Store struct {
	cancel func()
	db     *kivik.DB
}

type Config struct {
	User    string
	Pass    string
	Address string
	Port    string
}

func (c *Config) URI() string {
	return "http://" + c.User + ":" + c.Pass + "@" + c.Address + ":" + c.Port
}

// ConfigFromEnv reads COUCHDB_USER, COUCHDB_PASSWORD, COUCHDB_HOST and
// COUCHDB_PORT.
func ConfigFromEnv() (*Config, error) {
	var config Config
	keys := []struct {
		key  string
		into *string
	}{
		{"COUCHDB_USER", &config.User},
		{"COUCHDB_PASSWORD", &config.Pass},
		{"COUCHDB_HOST", &config.Address},
		{"COUCHDB_PORT", &config.Port},
	}
	for _, k := range keys {
		value, ok := os.LookupEnv(k.key)
		if !ok {
			return nil, fmt.Errorf("missing env var: %s", k.key)
		}
		*k.into = value
	}
	return &config, nil
}

// Open connects to the server at uri and creates the database if needed.
func Open(uri string, name string) (*Store, error) {
	client, err := kivik.New("couch", uri)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	dbs, err := client.AllDBs(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	found := false
	for _, db := range dbs {
		if db == name {
			found = true
			break
		}
	}
	if !found {
		err = client.CreateDB(ctx, name)
		if err != nil {
			cancel()
			return nil, err
		}
	}
	db := client.DB(ctx, name)
	if err := db.Err(); err != nil {
		cancel()
		return nil, err
	}
	return &Store{
		cancel: cancel,
		db:     db,
	}, nil
}

func (s *Store) Close() error {
	s.cancel()
	return nil
}

type mcuList struct {
	ID    string                `json:"_id"`
	Rev   string                `json:"_rev,omitempty"`
	Items []*profile.MCUProfile `json:"items"`
}

type motorList struct {
	ID    string                  `json:"_id"`
	Rev   string                  `json:"_rev,omitempty"`
	Items []*profile.MotorProfile `json:"items"`
}

func notFound(err error) bool {
	return kivik.StatusCode(err) == http.StatusNotFound
}

// get scans id into doc and reports the revision, or "" when the document
// does not exist yet.
func (s *Store) get(ctx context.Context, id string, doc interface{}) (string, error) {
	row := s.db.Get(ctx, id)
	if err := row.ScanDoc(doc); err != nil {
		if notFound(err) {
			return "", nil
		}
		return "", err
	}
	return row.Rev, nil
}

func (s *Store) LoadMCUs(ctx context.Context) ([]*profile.MCUProfile, error) {
	var doc mcuList
	if _, err := s.get(ctx, mcuDoc, &doc); err != nil {
		return nil, err
	}
	if doc.Items == nil {
		doc.Items = make([]*profile.MCUProfile, 0)
	}
	return doc.Items, nil
}

func (s *Store) SaveMCUs(ctx context.Context, mcus []*profile.MCUProfile) error {
	var prev mcuList
	rev, err := s.get(ctx, mcuDoc, &prev)
	if err != nil {
		return err
	}
	_, err = s.db.Put(ctx, mcuDoc, &mcuList{ID: mcuDoc, Rev: rev, Items: mcus})
	return err
}

func (s *Store) LoadMotors(ctx context.Context) ([]*profile.MotorProfile, error) {
	var doc motorList
	if _, err := s.get(ctx, motorDoc, &doc); err != nil {
		return nil, err
	}
	if doc.Items == nil {
		doc.Items = make([]*profile.MotorProfile, 0)
	}
	return doc.Items, nil
}

func (s *Store) SaveMotors(ctx context.Context, motors []*profile.MotorProfile) error {
	var prev motorList
	rev, err := s.get(ctx, motorDoc, &prev)
	if err != nil {
		return err
	}
	_, err = s.db.Put(ctx, motorDoc, &motorList{ID: motorDoc, Rev: rev, Items: motors})
	return err
}

// Destroy drops the database. Used to reset test fixtures.
func Destroy(ctx context.Context, uri, name string) error {
	client, err := kivik.New("couch", uri)
	if err != nil {
		return err
	}
	err = client.DestroyDB(ctx, name)
	if err != nil && !notFound(err) {
		return err
	}
	return nil
}
