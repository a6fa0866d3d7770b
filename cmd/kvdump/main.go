// Command kvdump prints the contents of a sqlcached database file as a
// table. It opens the database read-only, so it is safe to point at a file a
// running engine is using.
package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"

	"github.com/sqlcached/sqlcached/persist"
)

type config struct {
	DBName   string `long:"dbname" default:"/tmp/sqlcached.db" description:"Path of the database file"`
	Compress bool   `long:"compress" description:"Database was written with value compression"`
	Values   bool   `long:"values" description:"Print values instead of value sizes"`
	MaxValue int    `long:"max-value" default:"64" description:"Truncate printed values to this many bytes"`
}

func main() {
	var conf config
	parser := flags.NewParser(&conf, flags.Default)
	parser.LongDescription = `kvdump lists every record of a sqlcached database file:
key, flags, expiration time and the stored value (or its size).`
	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}

	store, err := persist.Open(conf.DBName, persist.Options{
		Compress: conf.Compress,
		ReadOnly: true,
	})
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	defer store.Close()

	table := tablewriter.NewWriter(os.Stdout)
	if conf.Values {
		table.SetHeader([]string{"Key", "Flags", "Exptime", "Value"})
	} else {
		table.SetHeader([]string{"Key", "Flags", "Exptime", "Size"})
	}

	var records int
	var bytes uint64
	err = store.Scan(context.Background(), func(rec persist.Record) error {
		records++
		bytes += uint64(len(rec.Value))
		table.Append([]string{rec.Key, strconv.FormatUint(uint64(rec.Flags), 10), exptime(rec.Exptime), value(conf, rec)})
		return nil
	})
	if err != nil {
		log.WithError(err).Fatal("scan database")
	}
	table.Render()
	log.Infof("%v records, %v of values.", records, humanize.Bytes(bytes))
}

func exptime(t int64) string {
	if t == 0 {
		return "never"
	}
	return time.Unix(t, 0).Format(time.RFC3339)
}

func value(conf config, rec persist.Record) string {
	if !conf.Values {
		return humanize.Bytes(uint64(len(rec.Value)))
	}
	v := rec.Value
	if len(v) > conf.MaxValue {
		v = v[:conf.MaxValue]
	}
	return strconv.Quote(string(v))
}
