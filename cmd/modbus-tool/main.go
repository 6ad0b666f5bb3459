// Command modbus-tool is a small smoke-test CLI exercising the client and
// server halves of the library end to end over plain TCP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/modbusgo/modbus"
)

func main() {
	mode := flag.String("mode", "", "server or client")
	addr := flag.String("addr", "localhost:5020", "host:port to listen on or dial")
	flag.Parse()

	switch *mode {
	case "server":
		runServer(*addr)
	case "client":
		runClient(*addr)
	default:
		fmt.Fprintln(os.Stderr, "usage: modbus-tool -mode=server|client -addr=host:port")
		os.Exit(2)
	}
}

func runServer(addr string) {
	holding := make([]uint16, 100)
	for i := range holding {
		holding[i] = uint16(i)
	}

	h := &modbus.Mux{
		ReadHoldingRegistersFunc: func(_ context.Context, _ modbus.UnitId, r modbus.AddressRange) ([]uint16, modbus.ExceptionCode) {
			if int(r.Start)+int(r.Count) > len(holding) {
				return nil, modbus.IllegalDataAddress
			}
			return append([]uint16(nil), holding[r.Start:r.Start+r.Count]...), 0
		},
		WriteSingleRegisterFunc: func(_ context.Context, _ modbus.UnitId, addr, value uint16) modbus.ExceptionCode {
			if int(addr) >= len(holding) {
				return modbus.IllegalDataAddress
			}
			holding[addr] = value
			return 0
		},
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)
	cfg := modbus.Config{Transport: modbus.TransportTCP, Host: addr}
	logger.Printf("serving on %s", addr)
	if err := modbus.ListenAndServe(context.Background(), cfg, h, logger); err != nil {
		logger.Fatal(err)
	}
}

func runClient(addr string) {
	c := modbus.NewClient(modbus.Config{Transport: modbus.TransportTCP, Host: addr})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	r, err := modbus.NewAddressRange(0, 10)
	if err != nil {
		log.Fatal(err)
	}
	values, err := c.ReadHoldingRegisters(ctx, modbus.DefaultUnitId, r)
	if err != nil {
		log.Fatal(err)
	}
	for _, v := range values {
		fmt.Printf("register %d = %d\n", v.Index, v.Value)
	}
}
