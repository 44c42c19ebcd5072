package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/willemschots/stockdigest/internal/app"
	"github.com/willemschots/stockdigest/internal/db"
)

const helpText = `Usage: dbmigrate sqlite <file>
       dbmigrate postgres <dsn>`

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*60)
	defer cancel()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) != 2 {
		fmt.Fprintln(stderr, helpText)
		return 1
	}

	dialect, err := db.ParseDialect(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "%v\n%s\n", err, helpText)
		return 1
	}

	pools, err := db.Open(dialect, args[1])
	if err != nil {
		fmt.Fprintf(stderr, "failed to open database: %v\n", err)
		return 1
	}
	defer pools.Close()

	migrations, err := app.Migrate(ctx, pools)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}

	for _, migration := range migrations {
		fmt.Fprintf(stdout, "%d: %s\n", migration.Sequence, migration.Filename)
	}

	return 0
}
