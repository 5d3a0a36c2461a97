// Package scp implements the SpiNNaker Command Protocol (SCP) over SDP, a
// request/response protocol carried in UDP datagrams. A Connection sends
// SCP commands and bulk reads/writes to a single peer, retrying and
// matching replies by sequence number, and shards bulk transfers into
// packet-sized pieces transparently.
package scp
