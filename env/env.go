package env

import (
	"errors"
	"fmt"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	ProfileDir   = "FLOWCHEM_PROFILE_DIR"
	CouchURI     = "FLOWCHEM_COUCH_URI"
	AMQPURI      = "FLOWCHEM_AMQP_URI"
	AMQPExchange = "FLOWCHEM_AMQP_EXCHANGE"
	MetricsAddr  = "FLOWCHEM_METRICS_ADDR"
	Settle       = "FLOWCHEM_SETTLE"

	DefaultExchange = "flowchem"
	DefaultSettle   = 100 * time.Millisecond
)

// Environment is the process configuration. Empty optional fields disable
// the matching integration.
type Environment struct {
	ProfileDir   string
	CouchURI     string
	AMQPURI      string
	AMQPExchange string
	MetricsAddr  string
	Settle       time.Duration
}

// LoadEnv reads .env files, when present, and then the process environment.
func LoadEnv(logger *zap.Logger, files ...string) (*Environment, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := godotenv.Load(files...); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
		logger.Debug("no .env file")
	}
	e := &Environment{
		ProfileDir:   os.Getenv(ProfileDir),
		CouchURI:     os.Getenv(CouchURI),
		AMQPURI:      os.Getenv(AMQPURI),
		AMQPExchange: os.Getenv(AMQPExchange),
		MetricsAddr:  os.Getenv(MetricsAddr),
		Settle:       DefaultSettle,
	}
	if e.ProfileDir == "" {
		dir, err := defaultProfileDir()
		if err != nil {
			return nil, err
		}
		e.ProfileDir = dir
	}
	if e.AMQPExchange == "" {
		e.AMQPExchange = DefaultExchange
	}
	if s, ok := os.LookupEnv(Settle); ok {
		ms, err := strconv.Atoi(s)
		if err != nil {
			d, derr := time.ParseDuration(s)
			if derr != nil {
				return nil, fmt.Errorf("%s: %w", Settle, err)
			}
			e.Settle = d
		} else {
			e.Settle = time.Duration(ms) * time.Millisecond
		}
	}
	logger.Debug("environment loaded",
		zap.String("profiles", e.ProfileDir),
		zap.Bool("couch", e.CouchURI != ""),
		zap.Bool("amqp", e.AMQPURI != ""),
		zap.String("metrics", e.MetricsAddr),
	)
	return e, nil
}

func defaultProfileDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "flowchem"), nil
}

// NewLogger builds the process logger. verbose enables debug output.
func NewLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.DisableStacktrace = true
	return cfg.Build()
}
