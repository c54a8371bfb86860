package checksum

// Combine returns the IEEE CRC32 of A||B given crc1 = CRC32(A),
// crc2 = CRC32(B) and the length of B.
//
// The shift of crc1 over len2 zero bytes is applied as powers of the
// GF(2) operator matrix for one zero bit, squared repeatedly.
func Combine(crc1, crc2 uint32, len2 int64) uint32 {
	if len2 <= 0 {
		return crc1
	}

	var even, odd gf2Matrix

	// Operator for one zero bit.
	odd[0] = 0xedb88320
	row := uint32(1)
	for n := 1; n < 32; n++ {
		odd[n] = row
		row <<= 1
	}

	even.square(&odd) // two zero bits
	odd.square(&even) // four zero bits

	// The first squaring below yields the operator for one zero byte.
	for {
		even.square(&odd)
		if len2&1 != 0 {
			crc1 = even.times(crc1)
		}
		len2 >>= 1
		if len2 == 0 {
			break
		}

		odd.square(&even)
		if len2&1 != 0 {
			crc1 = odd.times(crc1)
		}
		len2 >>= 1
		if len2 == 0 {
			break
		}
	}

	return crc1 ^ crc2
}

type gf2Matrix [32]uint32

func (m *gf2Matrix) times(vec uint32) uint32 {
	var sum uint32
	for i := 0; vec != 0; i++ {
		if vec&1 != 0 {
			sum ^= m[i]
		}
		vec >>= 1
	}
	return sum
}

// square sets m to mat*mat.
func (m *gf2Matrix) square(mat *gf2Matrix) {
	for n := 0; n < 32; n++ {
		m[n] = mat.times(mat[n])
	}
}
