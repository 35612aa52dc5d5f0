// Package barrier provides a cyclic phase barrier whose party count may
// change between and during phases.
//
// Time is partitioned into numbered phases starting at 0. A phase ends when
// every registered party has either arrived or deregistered; the optional
// advance hook then runs exactly once, the phase number increments, and all
// waiters are released together. No party can begin work for phase N+1
// before every party still registered has finished phase N.
//
// # Usage
//
//	b := barrier.New(barrier.WithOnAdvance(func(phase, registered int) bool {
//	    log.Printf("phase %d done with %d parties", phase, registered)
//	    return false
//	}))
//	p, _ := b.Register()
//	defer b.ArriveAndDeregister(p)
//	for {
//	    // ... this phase's work ...
//	    if _, err := b.ArriveAndAwaitAdvance(ctx, p); err != nil {
//	        return err
//	    }
//	}
//
// # Membership
//
// A party registered mid-phase owes an arrival for that phase. A party that
// deregisters after arriving is removed from both the registered and arrived
// counts, so the others still owe their arrivals; a party that deregisters
// before arriving may be the departure that completes the phase. With zero
// registered parties the barrier never advances.
//
// # Termination
//
// The barrier terminates when the hook returns true or ForceTermination is
// called. Every waiter is released with errors.ErrTerminated and the barrier
// never advances again.
package barrier
