package keys

// All returns a new key range matching all keys
func All() Range {
	return Range{}
}

// Range represents all keys such that
//   k >= Min and k < Max
// If Min = nil that indicates the start of all keys
// If Max = nil that indicatese the end of all keys
// If multiple modifiers are called on a range the end
// result is effectively the same as ANDing all the
// restrictions.
type Range struct {
	Min []byte
	Max []byte
}

// Eq confines the range to just key k
func (r Range) Eq(k []byte) Range {
	return r.Gte(k).Lte(k)
}

// Gt confines the range to keys that are
// greater than k
func (r Range) Gt(k []byte) Range {
	return r.refineMin(Next(k))
}

// Gte confines the range to keys that are
// greater than or equal to k
func (r Range) Gte(k []byte) Range {
	return r.refineMin(k)
}

// Lt confines the range to keys that are
// less than k
func (r Range) Lt(k []byte) Range {
	return r.refineMax(k)
}

// Lte confines the range to keys that are
// less than or equal to k
func (r Range) Lte(k []byte) Range {
	return r.refineMax(Next(k))
}

// Prefix confines the range to keys that
// have the prefix k, excluding k itself
func (r Range) Prefix(k []byte) Range {
	r = r.Gt(k)

	if max := Inc(k); max != nil {
		r = r.Lt(max)
	}

	return r
}

// Contains returns true if k is inside the range
func (r Range) Contains(k []byte) bool {
	if r.Min != nil && Compare(k, r.Min) < 0 {
		return false
	}

	if r.Max != nil && Compare(k, r.Max) >= 0 {
		return false
	}

	return true
}

// Empty returns true if no key can satisfy the range
func (r Range) Empty() bool {
	return r.Min != nil && r.Max != nil && Compare(r.Min, r.Max) >= 0
}

func (r Range) refineMin(min []byte) Range {
	if r.Min != nil && Compare(min, r.Min) <= 0 {
		return r
	}

	r.Min = min

	return r
}

func (r Range) refineMax(max []byte) Range {
	if r.Max != nil && Compare(max, r.Max) >= 0 {
		return r
	}

	r.Max = max

	return r
}
