package transport

import (
	"context"
	"sync"

	"github.com/quic-go/quic-go"
)

// PriorityScheduler multiplexes chunk sends across priority classes.
type PriorityScheduler struct {
	conn   *quic.Conn
	queues map[PriorityClass]chan func(context.Context)
	wg     sync.WaitGroup
}

func NewPriorityScheduler(conn *quic.Conn) *PriorityScheduler {
	qs := &PriorityScheduler{
		conn: conn,
		queues: map[PriorityClass]chan func(context.Context){
			PriorityControl:    make(chan func(context.Context), 128),
			PriorityChunks:     make(chan func(context.Context), 128),
			PriorityBackground: make(chan func(context.Context), 128),
		},
	}
	// Strict preference: Control > Chunks > Background. With every queue
	// empty the loop blocks until any of the three has work.
	qs.wg.Add(1)
	go func() {
		defer qs.wg.Done()
		ctx := context.Background()
		for {
			select {
			case f, ok := <-qs.queues[PriorityControl]:
				if !ok {
					return
				}
				if f != nil {
					f(ctx)
				}
			default:
				select {
				case f, ok := <-qs.queues[PriorityChunks]:
					if !ok {
						return
					}
					if f != nil {
						f(ctx)
					}
				default:
					var f func(context.Context)
					var ok bool
					select {
					case f, ok = <-qs.queues[PriorityControl]:
					case f, ok = <-qs.queues[PriorityChunks]:
					case f, ok = <-qs.queues[PriorityBackground]:
					}
					if !ok {
						return
					}
					if f != nil {
						f(ctx)
					}
				}
			}
		}
	}()
	return qs
}

func (qs *PriorityScheduler) Enqueue(class PriorityClass, fn func(context.Context)) {
	qs.queues[class] <- fn
}

func (qs *PriorityScheduler) Close() {
	for _, q := range qs.queues {
		close(q)
	}
	qs.wg.Wait()
}
