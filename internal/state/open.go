package state

import (
	"github.com/ducminhle1904/crypto-oms/internal/config"
	omserrors "github.com/ducminhle1904/crypto-oms/internal/errors"
	"github.com/ducminhle1904/crypto-oms/internal/logger"
	"github.com/ducminhle1904/crypto-oms/internal/oms"
	"github.com/ducminhle1904/crypto-oms/internal/state/postgres"
	"github.com/ducminhle1904/crypto-oms/internal/state/sqlite"
)

// Store is a durable order store that can also list terminal orders
type Store interface {
	oms.Store
	oms.OrderLister
	Close() error
}

// Open creates the store selected by cfg.Driver
func Open(cfg config.StoreConfig, log *logger.Logger) (Store, error) {
	if log == nil {
		log = logger.NewNop()
	}
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case config.StoreFile:
		s, err = NewFileStore(cfg.Path, log)
	case config.StoreSQLite, "":
		s, err = sqlite.New(cfg.Path)
	case config.StorePostgres:
		s, err = postgres.New(postgres.Option{DSN: cfg.DSN})
	default:
		return nil, omserrors.NewConfigurationError("state", "open", "unsupported store driver: "+cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	log.Component("state").Info("Order store ready (driver=%s)", driverName(cfg.Driver))
	return s, nil
}

func driverName(d string) string {
	if d == "" {
		return config.StoreSQLite
	}
	return d
}
