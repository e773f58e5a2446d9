// Command inspect prints the connection registry as a table.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"

	"github.com/comet-live/backend/internal/model"
	"github.com/comet-live/backend/internal/registry"
)

func main() {
	driver := flag.String("driver", registry.DriverSQLite, "Registry driver (sqlite or badger)")
	dbPath := flag.String("db", "data/connections.db", "Path to SQLite database")
	badgerPath := flag.String("badger", "data/badger", "Path to badger directory")
	room := flag.String("room", model.DefaultRoomID, "Room to list")
	purge := flag.Bool("purge", false, "Purge expired rows before listing")
	flag.Parse()

	store, closeStore, err := registry.Open(registry.OpenConfig{
		Driver:     *driver,
		SQLitePath: *dbPath,
		BadgerPath: *badgerPath,
	}, zerolog.Nop())
	if err != nil {
		log.Fatal("Error while opening registry: ", err)
	}
	defer closeStore()

	ctx := context.Background()
	if *purge {
		n, err := store.PurgeExpired(ctx)
		if err != nil {
			log.Fatal("Error while purging: ", err)
		}
		fmt.Printf("purged %d expired rows\n", n)
	}

	conns, err := store.Connections(ctx, *room)
	if err != nil {
		log.Fatal("Error while listing connections: ", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Connection", "Room", "Connected", "Expires", "Remaining"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	now := time.Now()
	for _, c := range conns {
		expires := time.Unix(c.ExpiresAt, 0)
		table.Append([]string{
			c.ConnectionID,
			c.RoomID,
			c.ConnectedTime().Format(time.RFC3339),
			expires.Format(time.RFC3339),
			expires.Sub(now).Round(time.Second).String(),
		})
	}
	table.SetFooter([]string{"", "", "", "Total", fmt.Sprint(len(conns))})
	table.Render()
}
