// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package worker

import (
	"bytes"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	. "github.com/smartystreets/goconvey/convey"
)

func TestQueue(t *testing.T) {
	Convey("Given a new Queue", t, func(c C) {
		var logs bytes.Buffer
		ctx := &log.Logger{
			Handler: text.New(&logs),
			Level:   log.DebugLevel,
		}
		defer func() {
			if logs.Len() > 0 {
				c.Printf("\n%s", logs.String())
			}
		}()

		q := New(0, ctx)
		Reset(func() { q.Stop() })

		Convey("When submitting tasks before starting", func() {
			var order []int
			for i := 0; i < 10; i++ {
				i := i
				So(q.Submit("append", func() { order = append(order, i) }), ShouldBeTrue)
			}
			Convey("They should be pending", func() {
				So(q.Len(), ShouldEqual, 10)
			})
			Convey("When starting the worker", func() {
				q.Start()
				q.Barrier()
				Convey("They should have run in submission order", func() {
					So(order, ShouldResemble, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})
				})
			})
		})

		Convey("When the worker is started", func() {
			q.Start()

			Convey("Tasks submitted from many goroutines should never run concurrently", func() {
				var running, maxRunning int32
				var wg sync.WaitGroup
				for i := 0; i < 20; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						q.Submit("work", func() {
							n := atomic.AddInt32(&running, 1)
							if n > atomic.LoadInt32(&maxRunning) {
								atomic.StoreInt32(&maxRunning, n)
							}
							time.Sleep(time.Millisecond)
							atomic.AddInt32(&running, -1)
						})
					}()
				}
				wg.Wait()
				q.Barrier()
				So(atomic.LoadInt32(&maxRunning), ShouldEqual, 1)
			})

			Convey("Submitting should not block on a slow task", func() {
				release := make(chan struct{})
				q.Submit("slow", func() { <-release })
				start := time.Now()
				So(q.Submit("next", func() {}), ShouldBeTrue)
				So(time.Since(start), ShouldBeLessThan, 50*time.Millisecond)
				close(release)
				q.Barrier()
			})

			Convey("A panicking task should not stop the worker", func() {
				var ran bool
				q.Submit("panic", func() { panic("boom") })
				q.Submit("after", func() { ran = true })
				q.Barrier()
				So(ran, ShouldBeTrue)
				So(logs.String(), ShouldContainSubstring, "Recovered from panic in task")
			})

			Convey("When stopping the worker", func() {
				q.Stop()
				Convey("Submitting should fail", func() {
					So(q.Submit("late", func() {}), ShouldBeFalse)
				})
				Convey("Barrier should not block", func() {
					q.Barrier()
				})
				Convey("Stopping again should be a no-op", func() {
					q.Stop()
				})
			})
		})
	})

	Convey("Given a Queue with a capacity of 2", t, func() {
		q := New(2, log.Log)
		Reset(func() { q.Stop() })

		Convey("When submitting 3 tasks before starting", func() {
			first := q.Submit("first", func() {})
			second := q.Submit("second", func() {})
			third := q.Submit("third", func() {})
			Convey("The third task should be dropped", func() {
				So(first, ShouldBeTrue)
				So(second, ShouldBeTrue)
				So(third, ShouldBeFalse)
				So(q.Len(), ShouldEqual, 2)
			})

			Convey("Pushing a task should still queue it behind the others", func() {
				var order []string
				q.Push("pushed", func() { order = append(order, "pushed") })
				So(q.Len(), ShouldEqual, 3)
				q.Start()
				q.Barrier()
				So(order, ShouldResemble, []string{"pushed"})
				So(q.Len(), ShouldEqual, 0)
			})
		})

		Convey("A barrier on a full queue should wait for the pending tasks", func() {
			ran := 0
			q.Submit("first", func() { ran++ })
			q.Submit("second", func() { ran++ })
			q.Start()
			q.Barrier()
			So(ran, ShouldEqual, 2)
		})

		Convey("When the queue is stopped", func() {
			q.Stop()
			Convey("Pushing should fail", func() {
				So(q.Push("late", func() {}), ShouldBeFalse)
			})
		})
	})
}
