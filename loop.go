package scp

import "time"

// run is the Connection's single owning goroutine: every mutation of queue,
// slots, nextSeq and nextRWID happens here, and nowhere else. It is fed by
// three sources — submitted commands, received datagrams, and fired retry
// timers — selected over exactly as the teacher's readLoop/monitor select
// over their packet and event channels.
func (c *Connection) run() {
	readerClosedCh := c.readerClosed
	for {
		select {
		case <-c.inbox.wake:
			for _, cmd := range c.inbox.drain() {
				c.handleCmd(cmd)
			}
		case pkt := <-c.recvCh:
			c.handleDatagram(pkt)
		case ev := <-c.timerCh:
			c.handleTimerFired(ev)
		case <-readerClosedCh:
			readerClosedCh = nil
			c.readerObserved = true
			if c.freeing {
				c.tryFinishTeardown()
			}
		}
		if c.teardownComplete {
			close(c.loopDone)
			return
		}
	}
}

// receiver reads datagrams off the socket and forwards them to the loop
// goroutine. It exits as soon as the socket is closed, signalling this by
// closing readerClosed.
func (c *Connection) receiver() {
	buf := make([]byte, packetCapacity(c.cfg.DataLength))
	for {
		n, err := c.sock.Read(buf)
		if err != nil {
			close(c.readerClosed)
			return
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		select {
		case c.recvCh <- pkt:
		case <-c.loopDone:
			return
		}
	}
}

func (c *Connection) handleCmd(cmd loopCmd) {
	switch cmd := cmd.(type) {
	case submitSCPCmd:
		c.handleSubmitSCP(cmd)
	case submitRWCmd:
		c.handleSubmitRW(cmd)
	case freeCmd:
		c.doFree(cmd.cb, cmd.userData)
	}
}

func (c *Connection) handleSubmitSCP(cmd submitSCPCmd) {
	if c.freeing {
		if cmd.cb != nil {
			cmd.cb(c, &Error{Code: CodeFree}, 0, 0, 0, 0, 0, cmd.buffer[:0], cmd.userData)
		}
		return
	}
	e := c.queue.insert()
	e.kind = kindSCP
	e.destAddr = cmd.destAddr
	e.destCPU = cmd.destCPU
	e.userData = cmd.userData
	e.cmd = cmd.cmd
	e.nArgsSend = cmd.nArgsSend
	e.nArgsRecv = cmd.nArgsRecv
	e.arg1, e.arg2, e.arg3 = cmd.arg1, cmd.arg2, cmd.arg3
	e.payload = cmd.buffer
	e.sendLength = cmd.sendLength
	e.recvCapacity = cmd.recvCapacity
	e.scpCB = cmd.cb
	c.runScheduler()
}

func (c *Connection) handleSubmitRW(cmd submitRWCmd) {
	if c.freeing {
		if cmd.cb != nil {
			cmd.cb(c, &Error{Code: CodeFree}, 0, cmd.buffer, cmd.userData)
		}
		return
	}
	e := c.queue.insert()
	e.kind = cmd.kind
	e.destAddr = cmd.destAddr
	e.destCPU = cmd.destCPU
	e.userData = cmd.userData
	e.rwID = c.nextRWID
	c.nextRWID++
	e.address = cmd.address
	e.consumed = 0
	e.remaining = len(cmd.buffer)
	e.buffer = cmd.buffer
	e.rwCB = cmd.cb
	c.runScheduler()
}

// handleDatagram dispatches a received packet to the outstanding slot whose
// sequence number it matches, discarding anything too short to be a valid
// packet or that matches no active slot (a duplicate or stale reply).
func (c *Connection) handleDatagram(pkt []byte) {
	if len(pkt) < padSize+headerSize {
		c.logger.WithField("len", len(pkt)).Debug("scp: dropping undersized datagram")
		return
	}
	seq := unpackSeq(pkt)
	idx := c.findActiveSlotBySeq(seq)
	if idx < 0 {
		c.logger.WithField("seq", seq).Debug("scp: dropping reply with no matching outstanding request")
		return
	}
	c.stopTimer(idx)
	slot := &c.slots[idx]
	switch slot.kind {
	case kindSCP:
		c.deliverSCP(idx, pkt)
	case kindRead, kindWrite:
		c.deliverRW(idx, pkt)
	}
}

func (c *Connection) deliverSCP(idx int, pkt []byte) {
	slot := &c.slots[idx]
	cmdRC, _, nArgs, arg1, arg2, arg3, payload := unpack(pkt, slot.nArgsRecv)

	n := len(payload)
	if n > slot.recvCapacity {
		n = slot.recvCapacity
	}
	if n > len(slot.payload) {
		n = len(slot.payload)
	}
	copy(slot.payload[:n], payload[:n])
	result := slot.payload[:n]

	cb, ud := slot.scpCB, slot.userData
	slot.active = false
	if cb != nil {
		cb(c, nil, cmdRC, nArgs, arg1, arg2, arg3, result, ud)
	}
	c.runScheduler()
}

func (c *Connection) deliverRW(idx int, pkt []byte) {
	slot := &c.slots[idx]
	cmdRC, _, _, _, _, _, payload := unpack(pkt, 0)

	if cmdRC != replyOK {
		c.cancelSlot(idx, &Error{Code: CodeBadRC, CmdRC: cmdRC}, cmdRC)
		return
	}

	if slot.kind == kindRead {
		n := len(payload)
		if n > slot.rwLength {
			n = slot.rwLength
		}
		copy(slot.buffer[slot.rwOffset:slot.rwOffset+n], payload[:n])
	}

	lastOutstanding := true
	for i := range c.slots {
		if i == idx {
			continue
		}
		s := &c.slots[i]
		if s.active && s.kind == slot.kind && s.rwID == slot.rwID {
			lastOutstanding = false
			break
		}
	}
	if e := c.queue.peek(); e != nil && e.kind == slot.kind && e.rwID == slot.rwID {
		lastOutstanding = false
	}

	slot.active = false
	if lastOutstanding {
		cb, ud, buf := slot.rwCB, slot.userData, slot.buffer
		if cb != nil {
			cb(c, nil, cmdRC, buf, ud)
		}
	}
	c.runScheduler()
}

func (c *Connection) handleTimerFired(ev timerEvent) {
	slot := &c.slots[ev.idx]
	if slot.timerGen != ev.gen {
		return
	}
	if !slot.active || slot.cancelled {
		return
	}
	c.attemptTransmission(ev.idx)
}

func (c *Connection) armTimer(idx int) {
	slot := &c.slots[idx]
	slot.timerGen++
	gen := slot.timerGen
	slot.timer = time.AfterFunc(c.cfg.Timeout, func() {
		select {
		case c.timerCh <- timerEvent{idx: idx, gen: gen}:
		case <-c.loopDone:
		}
	})
}

func (c *Connection) stopTimer(idx int) {
	slot := &c.slots[idx]
	if slot.timer != nil {
		slot.timer.Stop()
		slot.timer = nil
	}
	slot.timerGen++
}

func (c *Connection) findInactiveSlot() int {
	for i := range c.slots {
		if !c.slots[i].active {
			return i
		}
	}
	return -1
}

func (c *Connection) findActiveSlotBySeq(seq uint16) int {
	for i := range c.slots {
		if c.slots[i].active && c.slots[i].seq == seq {
			return i
		}
	}
	return -1
}
