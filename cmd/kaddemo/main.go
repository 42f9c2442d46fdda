// Command kaddemo spins up two DHT nodes in one process, bootstraps the
// second off the first, and exercises put/get and provide/find-providers
// against each other — a smoke test you can read top to bottom.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/multiformats/go-multihash"

	"kaddht/dht"
	"kaddht/peer"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := dht.NewBuilder().
		Listen("127.0.0.1:9100").
		RecordDatastore(newMemRecordStore()).
		ProviderDatastore(newMemProviderStore()).
		Build()
	if err != nil {
		log.Fatal("node A: ", err)
	}
	defer a.Close()

	b, err := dht.NewBuilder().
		Listen("127.0.0.1:9101").
		RecordDatastore(newMemRecordStore()).
		ProviderDatastore(newMemProviderStore()).
		Build()
	if err != nil {
		log.Fatal("node B: ", err)
	}
	defer b.Close()

	addrA, err := a.Addr(ctx)
	if err != nil {
		log.Fatal("node A addr: ", err)
	}
	fmt.Println("node A:", peer.EncodeToString(a.Self()), addrA)
	fmt.Println("node B:", peer.EncodeToString(b.Self()))

	b.Bootstrap(a.Self(), addrA)
	time.Sleep(200 * time.Millisecond)

	if err := b.PutValue(ctx, []byte("/demo/greeting"), []byte("hello from B")); err != nil {
		log.Fatal("put_value: ", err)
	}

	rec, err := a.GetValue(ctx, []byte("/demo/greeting"))
	if err != nil {
		log.Fatal("get_value: ", err)
	}
	fmt.Println("A resolved /demo/greeting =", string(rec.Value))

	mh, err := multihash.Sum([]byte("kaddemo content"), multihash.SHA2_256, -1)
	if err != nil {
		log.Fatal("multihash.Sum: ", err)
	}
	if err := a.Provide(ctx, mh); err != nil {
		log.Fatal("provide: ", err)
	}

	provs, err := b.FindProviders(ctx, mh, 1)
	if err != nil {
		log.Fatal("find_providers: ", err)
	}
	for _, p := range provs {
		fmt.Println("B found provider:", peer.EncodeToString(p.ID), p.Addrs)
	}
}
