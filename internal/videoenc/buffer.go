package videoenc

// VideoBuffer is the caller-owned compressed-frame buffer an Encoder
// writes into on each admitted frame. The caller (internal/mount) decides
// lifetime and distribution to listeners; the encoder only ever appends
// one fresh frame per EncodeFrame call.
type VideoBuffer struct {
	Data      []byte
	QualityID int
	SeqNum    uint64
}

// Set replaces the buffer's contents. data is copied so the encoder's own
// reusable GrowBuffer can be reset immediately after.
func (v *VideoBuffer) Set(data []byte, qualityID int, seq uint64) {
	if cap(v.Data) < len(data) {
		v.Data = make([]byte, len(data))
	} else {
		v.Data = v.Data[:len(data)]
	}
	copy(v.Data, data)
	v.QualityID = qualityID
	v.SeqNum = seq
}
