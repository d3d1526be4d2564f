package proto

import "encoding/binary"

// DecodeDatagramHeader splits a raw inbound UDP payload into its channel,
// cookie, and remaining channel payload, per SPEC_FULL.md §6.1. ok is false
// if the datagram is no longer than the 5-byte channel+cookie header, i.e.
// carries no channel payload.
func DecodeDatagramHeader(b []byte) (channel Channel, cookie uint32, payload []byte, ok bool) {
	if len(b) <= MetadataSizeReliable {
		return 0, 0, nil, false
	}
	return Channel(b[0]), binary.LittleEndian.Uint32(b[1:5]), b[5:], true
}

// EncodeUnreliableFrame builds a full unreliable datagram: channel byte,
// cookie, unreliable header, and payload.
func EncodeUnreliableFrame(cookie uint32, header UnreliableHeader, payload []byte) []byte {
	b := make([]byte, 0, 1+4+1+len(payload))
	b = append(b, byte(ChannelUnreliable))
	b = binary.LittleEndian.AppendUint32(b, cookie)
	b = append(b, byte(header))
	b = append(b, payload...)
	return b
}

// EncodeReliableMessage builds the user-visible reliable message (header +
// payload) that gets handed to the ARQ sublayer's Send, before it does its
// own segmentation and adds the [channel][cookie] wrapper via the output
// sink.
func EncodeReliableMessage(header ReliableHeader, payload []byte) []byte {
	b := make([]byte, 1+len(payload))
	b[0] = byte(header)
	copy(b[1:], payload)
	return b
}

// EncodeReliableOutputFrame wraps one ARQ-produced segment with the
// [channel=Reliable][cookie] header, for the engine's output sink.
func EncodeReliableOutputFrame(cookie uint32, segment []byte) []byte {
	b := make([]byte, 0, 1+4+len(segment))
	b = append(b, byte(ChannelReliable))
	b = binary.LittleEndian.AppendUint32(b, cookie)
	b = append(b, segment...)
	return b
}
