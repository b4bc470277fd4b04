// Package contains a reference or sample implementation of a REST API that surfaces a
// remote business server through the ROP transaction manager. Please feel free to
// reuse or copy-paste it to implement your own REST API.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sharedcode/rop"
	"github.com/sharedcode/rop/cache"
	"github.com/sharedcode/rop/jsonrpc"
	"github.com/sharedcode/rop/restapi"
	"github.com/sharedcode/rop/transaction"
	"github.com/sharedcode/rop/validate"
)

// @BasePath /api/v1

// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	rop.ConfigureLogging()

	options := jsonrpc.DefaultOptions()
	if url := os.Getenv("ROP_SERVER_URL"); url != "" {
		options.URL = url
	}
	if db := os.Getenv("ROP_SERVER_DB"); db != "" {
		options.Database = db
	}
	if user := os.Getenv("ROP_SERVER_USER"); user != "" {
		options.Username = user
	}
	if pwd := os.Getenv("ROP_SERVER_PASSWORD"); pwd != "" {
		options.Password = pwd
	}

	wire, err := jsonrpc.NewClient(options)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer wire.Close()

	// Layer the response cache between the wire client and the manager. Point the
	// cache at Redis via ROP_REDIS_ADDRESS to share it across processes.
	cacheOptions := cache.DefaultOptions()
	if addr := os.Getenv("ROP_REDIS_ADDRESS"); addr != "" {
		redisOptions := cache.DefaultRedisOptions()
		redisOptions.Address = addr
		if _, err := cache.OpenConnection(redisOptions); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		defer cache.CloseConnection()
		cacheOptions.L2 = cache.NewRecordCache(15 * time.Minute)
	}
	cached := cache.NewClient(wire, cacheOptions)

	mgr := transaction.NewManager(cached, nil, 0)

	// Sample pre-flight validation rule; mutations of res.partner without a name are
	// rejected before they reach the server.
	rules, err := validate.NewRules()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rules.AddRule("res.partner", "name_required", `rec['name'] != ''`, "name is required"); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	mgr.SetValidator(rules)

	if err := restapi.RegisterManager(mgr); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	restapi.Main("localhost:8080")
}
