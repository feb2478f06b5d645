package thread

import (
	"context"
	"fmt"

	"github.com/mattjoyce/chatrelay/internal/config"
	"github.com/mattjoyce/chatrelay/internal/storage"
)

// Open builds the store selected by threads.driver.
func Open(ctx context.Context, tc config.ThreadsConfig) (Store, error) {
	newID, err := NewIDFunc(tc.IDStrategy)
	if err != nil {
		return nil, err
	}

	switch tc.Driver {
	case config.DriverSQLite, "":
		db, err := storage.OpenSQLite(ctx, tc.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return NewSQLiteStore(db, newID), nil
	case config.DriverRedis:
		return OpenRedis(ctx, tc.Redis.URL, tc.Redis.Prefix, newID)
	case config.DriverDynamoDB:
		return OpenDynamo(ctx, tc.DynamoDB.Table, tc.DynamoDB.Region, tc.DynamoDB.Endpoint, newID)
	case config.DriverMemory:
		return NewMemoryStore(newID), nil
	default:
		return nil, fmt.Errorf("unknown thread store driver %q", tc.Driver)
	}
}
