//go:build post_randomx_cgo

// This file binds the real RandomX core (github.com/tevador/RandomX) via
// cgo, in the same spirit as the teacher repo's use of
// github.com/supranational/blst: a C/assembly cryptographic library
// vendored and exposed through a small Go-native API. It requires
// librandomx (built from the RandomX sources) to be available at link
// time; pass -tags post_randomx_cgo and the appropriate CGO_LDFLAGS to
// build against it. It is not built by default -- see reference.go and
// the package doc in randomx.go.
package randomx

/*
#cgo LDFLAGS: -lrandomx -lstdc++
#include <stdlib.h>
#include "randomx.h"

static randomx_flags post_rs_flags(int fast) {
	randomx_flags flags = randomx_get_flags();
	if (fast) {
		flags |= RANDOMX_FLAG_FULL_MEM;
	}
	return flags;
}
*/
import "C"

import (
	"errors"
	"unsafe"
)

type cgoVM struct {
	flags   C.randomx_flags
	cache   *C.randomx_cache
	dataset *C.randomx_dataset
	machine *C.randomx_vm
	key     [32]byte
}

// NewVM constructs a cgo-backed RandomX VM for the given mode and key.
func NewVM(mode Mode, key [32]byte) (VM, error) {
	fast := C.int(0)
	if mode == ModeFast {
		fast = 1
	}
	flags := C.post_rs_flags(fast)

	cache := C.randomx_alloc_cache(flags)
	if cache == nil {
		return nil, errors.New("randomx: alloc_cache failed")
	}
	C.randomx_init_cache(cache, unsafe.Pointer(&key[0]), C.size_t(len(key)))

	var dataset *C.randomx_dataset
	if mode == ModeFast {
		dataset = C.randomx_alloc_dataset(flags)
		if dataset == nil {
			C.randomx_release_cache(cache)
			return nil, errors.New("randomx: alloc_dataset failed")
		}
		itemCount := C.randomx_dataset_item_count()
		C.randomx_init_dataset(dataset, cache, 0, itemCount)
	}

	machine := C.randomx_create_vm(flags, cache, dataset)
	if machine == nil {
		if dataset != nil {
			C.randomx_release_dataset(dataset)
		}
		C.randomx_release_cache(cache)
		return nil, errors.New("randomx: create_vm failed")
	}

	return &cgoVM{flags: flags, cache: cache, dataset: dataset, machine: machine, key: key}, nil
}

func (v *cgoVM) Hash(input []byte) [32]byte {
	var out [32]byte
	var inPtr unsafe.Pointer
	if len(input) > 0 {
		inPtr = unsafe.Pointer(&input[0])
	}
	C.randomx_calculate_hash(v.machine, inPtr, C.size_t(len(input)), unsafe.Pointer(&out[0]))
	return out
}

func (v *cgoVM) Close() error {
	if v.machine != nil {
		C.randomx_destroy_vm(v.machine)
		v.machine = nil
	}
	if v.dataset != nil {
		C.randomx_release_dataset(v.dataset)
		v.dataset = nil
	}
	if v.cache != nil {
		C.randomx_release_cache(v.cache)
		v.cache = nil
	}
	return nil
}
