package meshproto

// SplitFromRadioStream splits a blob of back-to-back FromRadio payloads,
// the format the firmware's HTTP API returns. FromRadio is a oneof, so a
// field number repeating within the current run marks the next record.
func SplitFromRadioStream(blob []byte) ([][]byte, error) {
	var out [][]byte
	start := 0
	pos := 0
	seen := make(map[int]bool)

	flush := func(end int) {
		if end > start {
			out = append(out, blob[start:end])
		}
		start = end
		seen = make(map[int]bool)
	}

	for pos < len(blob) {
		tagStart := pos
		tag, n := decodeVarint(blob[pos:])
		if n == 0 {
			return nil, ErrInvalidProtobuf
		}
		pos += n
		fieldNum := int(tag >> 3)
		wireType := int(tag & 0x07)
		if fieldNum == 0 {
			return nil, ErrInvalidProtobuf
		}

		if seen[fieldNum] {
			flush(tagStart)
		}
		seen[fieldNum] = true

		switch wireType {
		case wireVarint:
			_, n := decodeVarint(blob[pos:])
			if n == 0 {
				return nil, ErrInvalidProtobuf
			}
			pos += n
		case wireFixed64:
			if pos+8 > len(blob) {
				return nil, ErrInvalidProtobuf
			}
			pos += 8
		case wireBytes:
			length, n := decodeVarint(blob[pos:])
			if n == 0 {
				return nil, ErrInvalidProtobuf
			}
			pos += n
			if length > uint64(len(blob)-pos) {
				return nil, ErrInvalidProtobuf
			}
			pos += int(length)
		case wireFixed32:
			if pos+4 > len(blob) {
				return nil, ErrInvalidProtobuf
			}
			pos += 4
		default:
			return nil, ErrInvalidProtobuf
		}
	}
	flush(pos)

	return out, nil
}
