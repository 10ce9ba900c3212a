package assetline_test

import (
	"fmt"

	"github.com/tamberlane/assetline"
	"github.com/tamberlane/assetline/pack"
)

func Example() {
	rt, err := assetline.Open(assetline.WithConcurrency(2))
	if err != nil {
		panic(err)
	}
	defer rt.Close()

	// A real game mounts directories or archive stores; the in-memory
	// module keeps the example self-contained.
	mod := pack.NewMemModule()
	mod.Add("intro/title.txt", []byte("ASSETLINE"))
	if err := rt.Mount(mod); err != nil {
		panic(err)
	}

	rm, err := rt.NewManager()
	if err != nil {
		panic(err)
	}
	defer rm.Close()

	id := rm.LoadData("intro/title.txt")
	tok := rm.Mark()

	// The simulation keeps running here while the load proceeds.

	rm.Wait(tok)
	fmt.Println(string(rm.Data(id)))
	// Output: ASSETLINE
}

func Example_shadowing() {
	rt, err := assetline.Open()
	if err != nil {
		panic(err)
	}
	defer rt.Close()

	patch := pack.NewMemModule()
	patch.Add("cfg/tuning.ini", []byte("speed=2"))
	base := pack.NewMemModule()
	base.Add("cfg/tuning.ini", []byte("speed=1"))

	// Earlier mounts win, so the patch overrides the base pack.
	rt.Mount(patch)
	rt.Mount(base)

	rm, _ := rt.NewManager()
	defer rm.Close()

	id := rm.LoadData("cfg/tuning.ini")
	rm.Wait(rm.Mark())
	fmt.Println(string(rm.Data(id)))
	// Output: speed=2
}
