package gc_test

import (
	"testing"

	"github.com/vkngwrapper/stackgc/gc"
)

func BenchmarkAllocate(b *testing.B) {
	collector, err := gc.New(nil, gc.CreateOptions{})
	if err != nil {
		b.Fatal(err)
	}
	defer collector.Destroy()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := collector.Allocate(48)
		if err != nil {
			b.Fatal(err)
		}
		if i%10000 == 9999 {
			b.StopTimer()
			collector.CollectWindow(gc.Words{})
			b.StartTimer()
		}
	}
}

func BenchmarkCollect(b *testing.B) {
	collector, err := gc.New(nil, gc.CreateOptions{MinChunkCount: 1})
	if err != nil {
		b.Fatal(err)
	}
	defer collector.Destroy()

	roots := make(gc.Words, 0, 512)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		roots = roots[:0]
		for j := 0; j < 2048; j++ {
			ptr, err := collector.Allocate(32)
			if err != nil {
				b.Fatal(err)
			}
			if j%4 == 0 {
				roots = append(roots, uintptr(ptr))
			}
		}
		b.StartTimer()

		collector.CollectWindow(roots)
	}
}
