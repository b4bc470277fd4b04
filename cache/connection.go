package cache

import (
	"crypto/tls"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Redis configurable options.
type RedisOptions struct {
	// Redis server(cluster) address.
	Address string
	// Password required when connecting to the Redis server.
	Password string
	// DB to connect to.
	DB int
	// TLS config.
	TLSConfig *tls.Config
}

// Connection contains the Redis client connection object and the Options used to connect.
type Connection struct {
	Client  *redis.Client
	Options RedisOptions
}

// DefaultRedisOptions.
func DefaultRedisOptions() RedisOptions {
	return RedisOptions{
		Address:  "localhost:6379",
		Password: "", // no password set
		DB:       0,  // use default DB
	}
}

var connection *Connection
var mux sync.Mutex

// IsConnectionInstantiated returns true if the singleton connection is open. The
// read-through client uses it to decide whether an L2 is available.
func IsConnectionInstantiated() bool {
	return connection != nil
}

// OpenConnection creates the singleton connection and returns it for every call.
func OpenConnection(options RedisOptions) (*Connection, error) {
	if connection != nil {
		return connection, nil
	}
	mux.Lock()
	defer mux.Unlock()

	if connection != nil {
		return connection, nil
	}

	connection = &Connection{
		Client: redis.NewClient(&redis.Options{
			TLSConfig: options.TLSConfig,
			Addr:      options.Address,
			Password:  options.Password,
			DB:        options.DB,
		}),
		Options: options,
	}
	return connection, nil
}

// CloseConnection closes the singleton connection if open.
func CloseConnection() error {
	if connection == nil {
		return nil
	}
	mux.Lock()
	defer mux.Unlock()
	if connection == nil {
		return nil
	}
	err := connection.Client.Close()
	connection = nil
	return err
}
