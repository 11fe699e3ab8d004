package whatsapp

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.mau.fi/whatsmeow/store/sqlstore"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/log"
)

// OpenDatastore opens the whatsmeow credential container and upgrades its
// schema
func OpenDatastore(ctx context.Context, driver string, dsn string) (*sqlstore.Container, error) {
	driver = NormalizeDatastoreDriver(driver)
	if driver != "pgx" {
		return nil, fmt.Errorf("unsupported datastore driver %s", driver)
	}
	dsn = NormalizeDatastoreDSN(driver, dsn)

	log.Print(nil).Info("Initializing WhatsApp datastore with driver=" + driver)

	container, err := sqlstore.New(ctx, driver, dsn, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize WhatsApp client datastore: %w", err)
	}
	if err := container.Upgrade(ctx); err != nil {
		return nil, fmt.Errorf("upgrade operation failed: %w", err)
	}
	return container, nil
}

func NormalizeDatastoreDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgresql", "postgres", "pgx", "":
		return "pgx"
	default:
		return strings.ToLower(driver)
	}
}

// NormalizeDatastoreDSN forces the simple query protocol so the DSN works
// behind transaction-pooling proxies
func NormalizeDatastoreDSN(driver string, dsn string) string {
	if driver != "pgx" {
		return dsn
	}
	appendParam := func(current string, key string, value string) string {
		if strings.Contains(current, key+"=") {
			return current
		}
		separator := "?"
		if strings.Contains(current, "?") {
			if strings.HasSuffix(current, "?") || strings.HasSuffix(current, "&") {
				separator = ""
			} else {
				separator = "&"
			}
		}
		return current + separator + key + "=" + value
	}
	dsn = appendParam(dsn, "statement_cache_capacity", "0")
	dsn = appendParam(dsn, "default_query_exec_mode", "simple_protocol")
	return dsn
}
