package correlator

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/nerrad567/hublink/internal/hub/wire"
)

// Every caller receives the payload sent for its own id, whatever order the
// hub answers in.
func TestCorrelationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("responses reach the request with the same id", prop.ForAll(
		func(n int, seed uint64) bool {
			c := New(Config{})

			chans := make(map[uint64]<-chan Result, n)
			order := make([]uint64, 0, n)
			for id := uint64(1); id <= uint64(n); id++ {
				ch, err := c.Add(id, wire.GetStates())
				if err != nil {
					return false
				}
				chans[id] = ch
				order = append(order, id)
			}

			rng := rand.New(rand.NewPCG(seed, seed>>1))
			rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

			for _, id := range order {
				if !c.Deliver(success(id, fmt.Sprintf(`"r%d"`, id))) {
					return false
				}
			}

			for id, ch := range chans {
				select {
				case r := <-ch:
					if r.Err != nil || string(r.Payload) != fmt.Sprintf(`"r%d"`, id) {
						return false
					}
				default:
					return false
				}
			}
			return c.Len() == 0
		},
		gen.IntRange(1, 64),
		gen.UInt64(),
	))

	properties.Property("a second outcome for a settled id is ignored", prop.ForAll(
		func(id uint64, rejectFirst bool) bool {
			c := New(Config{})
			ch, err := c.Add(id, wire.Ping())
			if err != nil {
				return false
			}

			var first, second bool
			if rejectFirst {
				first = c.Reject(id, ErrNoResponse)
				second = c.Deliver(wire.Pong{ID: id})
			} else {
				first = c.Deliver(wire.Pong{ID: id})
				second = c.Reject(id, ErrNoResponse)
			}
			if !first || second {
				return false
			}

			<-ch
			select {
			case <-ch:
				return false
			default:
				return true
			}
		},
		gen.UInt64(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
