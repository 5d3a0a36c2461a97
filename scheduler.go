package scp

import "github.com/pkg/errors"

// runScheduler places as many queued requests into free outstanding slots
// as it can, transmitting each as it is placed. It is re-entered after
// every event that might have freed up a slot or queued a new request:
// a submission, a reply, a timeout, or a cancellation.
func (c *Connection) runScheduler() {
	if c.freeing {
		return
	}
	for {
		idx := c.findInactiveSlot()
		if idx < 0 {
			return
		}
		e := c.queue.peek()
		if e == nil {
			return
		}

		switch e.kind {
		case kindSCP:
			c.placeSCP(idx, e)
			c.queue.remove()
		case kindRead, kindWrite:
			if c.placeRW(idx, e) {
				c.queue.remove()
			}
		}

		c.attemptTransmission(idx)
	}
}

func (c *Connection) placeSCP(idx int, e *queueEntry) {
	slot := &c.slots[idx]
	slot.reset()
	slot.kind = kindSCP
	slot.seq = c.nextSeq
	c.nextSeq++
	slot.userData = e.userData
	slot.nArgsRecv = e.nArgsRecv
	slot.payload = e.payload
	slot.sendLength = e.sendLength
	slot.recvCapacity = e.recvCapacity
	slot.scpCB = e.scpCB

	sendLen := e.sendLength
	if sendLen > len(e.payload) {
		sendLen = len(e.payload)
	}
	slot.packetLen = pack(slot.packet, c.cfg.DataLength, e.destAddr, e.destCPU, e.cmd, slot.seq, e.nArgsSend, e.arg1, e.arg2, e.arg3, e.payload[:sendLen])
	slot.active = true
}

// placeRW slices the next shard off e, packs it into slot idx, and advances
// e's cursor. It returns true once the whole request has been placed (the
// caller should then remove e from the queue).
func (c *Connection) placeRW(idx int, e *queueEntry) bool {
	slot := &c.slots[idx]
	slot.reset()
	slot.kind = e.kind
	slot.seq = c.nextSeq
	c.nextSeq++
	slot.userData = e.userData
	slot.rwID = e.rwID
	slot.buffer = e.buffer
	slot.rwCB = e.rwCB

	shardLen := e.remaining
	if shardLen > c.cfg.DataLength {
		shardLen = c.cfg.DataLength
	}
	shardAddr := e.address
	shardOffset := e.consumed
	unit := selectRWUnit(shardAddr, uint32(shardLen))

	slot.rwOffset = shardOffset
	slot.rwLength = shardLen

	if e.kind == kindWrite {
		payload := e.buffer[shardOffset : shardOffset+shardLen]
		slot.packetLen = pack(slot.packet, c.cfg.DataLength, e.destAddr, e.destCPU, cmdWrite, slot.seq, 3, shardAddr, uint32(shardLen), uint32(unit), payload)
	} else {
		slot.packetLen = pack(slot.packet, c.cfg.DataLength, e.destAddr, e.destCPU, cmdRead, slot.seq, 3, shardAddr, uint32(shardLen), uint32(unit), nil)
	}
	slot.active = true

	e.address += uint32(shardLen)
	e.consumed += shardLen
	e.remaining -= shardLen
	return e.remaining <= 0
}

// attemptTransmission sends (or re-sends) the packet in slot idx. A packet
// is sent at most Config.Attempts times in all; the call after the last
// attempt fails the request with CodeTimeout.
func (c *Connection) attemptTransmission(idx int) {
	slot := &c.slots[idx]
	if !slot.active {
		return
	}

	slot.nTries++
	if slot.nTries > c.cfg.Attempts {
		c.cancelSlot(idx, &Error{Code: CodeTimeout}, 0)
		return
	}

	slot.state = slotSending
	slot.sendInFlight = true
	_, err := c.sock.Write(slot.packet[:slot.packetLen])
	slot.sendInFlight = false

	if err != nil {
		c.cancelSlot(idx, errors.Wrap(err, "scp: send failed"), 0)
		return
	}

	// net.UDPConn.Write completes synchronously, so a cancellation can
	// never actually observe sendInFlight==true in this implementation;
	// this mirrors the libuv "cancelled while send in flight" case for
	// fidelity should a future asynchronous send path be added.
	if slot.cancelled {
		slot.active = false
		slot.cancelled = false
		c.runScheduler()
		return
	}

	slot.state = slotAwaiting
	c.armTimer(idx)
}

// cancelSlot tears down the slot at idx, firing its callback (unless a
// sibling read/write slot sharing the same id has already claimed that
// duty) and propagating the cancellation to any siblings.
func (c *Connection) cancelSlot(idx int, err error, cmdRC uint16) {
	slot := &c.slots[idx]
	if !slot.active || slot.cancelled {
		return
	}

	if slot.sendInFlight {
		slot.cancelled = true
	} else {
		slot.active = false
	}
	c.stopTimer(idx)

	othersToCancel := false
	if slot.kind == kindRead || slot.kind == kindWrite {
		for i := range c.slots {
			if i == idx {
				continue
			}
			s := &c.slots[i]
			if s.active && !s.cancelled && s.kind == slot.kind && s.rwID == slot.rwID {
				othersToCancel = true
				break
			}
		}
	}

	if !othersToCancel {
		c.fireSlotCallback(slot, err, cmdRC)
	}

	if slot.kind == kindRead || slot.kind == kindWrite {
		for i := range c.slots {
			if i == idx {
				continue
			}
			s := &c.slots[i]
			if s.active && !s.cancelled && s.kind == slot.kind && s.rwID == slot.rwID {
				c.cancelSlot(i, err, cmdRC)
			}
		}
		if e := c.queue.peek(); e != nil && e.kind == slot.kind && e.rwID == slot.rwID {
			c.queue.remove()
		}
	}

	c.runScheduler()
}

func (c *Connection) fireSlotCallback(slot *outstandingSlot, err error, cmdRC uint16) {
	switch slot.kind {
	case kindSCP:
		if slot.scpCB != nil {
			sendLen := slot.sendLength
			if sendLen > len(slot.payload) {
				sendLen = len(slot.payload)
			}
			slot.scpCB(c, err, cmdRC, 0, 0, 0, 0, slot.payload[:sendLen], slot.userData)
		}
	case kindRead, kindWrite:
		if slot.rwCB != nil {
			slot.rwCB(c, err, cmdRC, slot.buffer, slot.userData)
		}
	}
}

// fireQueuedCallback fires the callback of a request that never made it
// into an outstanding slot (cancelled while still sitting in the queue).
func (c *Connection) fireQueuedCallback(e *queueEntry, err error) {
	switch e.kind {
	case kindSCP:
		if e.scpCB != nil {
			e.scpCB(c, err, 0, 0, 0, 0, 0, e.payload[:0], e.userData)
		}
	case kindRead, kindWrite:
		if e.rwCB != nil {
			e.rwCB(c, err, 0, e.buffer, e.userData)
		}
	}
}
