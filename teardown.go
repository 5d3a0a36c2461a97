package scp

// doFree begins the teardown sequence: every outstanding slot is cancelled
// with CodeFree, every request still waiting in the queue has its callback
// fired directly, and the socket is closed so the receiver goroutine stops.
// Completion (and freeCB) is deferred to tryFinishTeardown, since the
// receiver goroutine noticing the closed socket happens asynchronously.
func (c *Connection) doFree(cb FreeCallback, userData interface{}) {
	if c.freeing {
		return
	}
	c.freeing = true
	c.freeCB = cb
	c.freeUserData = userData

	c.sock.Close()

	for i := range c.slots {
		c.cancelSlot(i, &Error{Code: CodeFree}, 0)
	}

	// Fire each callback before removing its entry: remove clears the
	// entry's callback and user data.
	for {
		e := c.queue.peek()
		if e == nil {
			break
		}
		c.fireQueuedCallback(e, &Error{Code: CodeFree})
		c.queue.remove()
	}

	c.tryFinishTeardown()
}

// tryFinishTeardown completes teardown once nothing is left pending: no
// in-flight send, and the receiver goroutine has observed the socket close.
func (c *Connection) tryFinishTeardown() {
	if !c.freeing || c.teardownComplete {
		return
	}

	for i := range c.slots {
		if c.slots[i].sendInFlight {
			return
		}
	}
	if !c.readerObserved {
		return
	}

	c.teardownComplete = true
	if c.freeCB != nil {
		c.freeCB(c.freeUserData)
	}
}
