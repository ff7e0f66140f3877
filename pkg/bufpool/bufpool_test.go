package bufpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSizeClasses(t *testing.T) {
	p := NewPool()
	assert.Equal(t, []int{DefaultSmallSize, DefaultDatagramSize}, p.Sizes())

	tests := []struct {
		name    string
		size    int
		wantCap int
	}{
		{"Zero", 0, DefaultSmallSize},
		{"Ack", 64, DefaultSmallSize},
		{"SmallBoundary", DefaultSmallSize, DefaultSmallSize},
		{"JustOverSmall", DefaultSmallSize + 1, DefaultDatagramSize},
		{"MaxUDPPayload", 65507, DefaultDatagramSize},
		{"Oversized", DefaultDatagramSize + 1, DefaultDatagramSize + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := p.Get(tt.size)
			assert.Len(t, buf, tt.size)
			assert.Equal(t, tt.wantCap, cap(buf))
			p.Put(buf)
		})
	}
}

func TestCustomSizes(t *testing.T) {
	p := NewPool(1024, 0, 256, 1024, -5)
	assert.Equal(t, []int{256, 1024}, p.Sizes())

	assert.Equal(t, 256, cap(p.Get(100)))
	assert.Equal(t, 1024, cap(p.Get(300)))
	assert.Equal(t, 2000, cap(p.Get(2000)))
}

func TestPutRestoresFullLength(t *testing.T) {
	p := NewPool(128)

	buf := p.Get(10)
	buf[0] = 0xAA
	p.Put(buf)

	again := p.Get(128)
	assert.Len(t, again, 128)
}

func TestPutIgnoresForeignBuffers(t *testing.T) {
	p := NewPool(128)
	assert.NotPanics(t, func() {
		p.Put(nil)
		p.Put(make([]byte, 100))
		p.Put(make([]byte, 10, 200))
	})
}

func TestConcurrentUse(t *testing.T) {
	var wg sync.WaitGroup
	for g := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 500 {
				size := (g*500 + i) % 70000
				buf := Get(size)
				if len(buf) != size {
					t.Errorf("len %d, want %d", len(buf), size)
					return
				}
				if size > 0 {
					buf[size-1] = byte(g)
				}
				Put(buf)
			}
		}()
	}
	wg.Wait()
}
