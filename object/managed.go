package object

// ---------------------------------------------------------------------------
// Object: reference-counted field container
// ---------------------------------------------------------------------------

// Finalizer is called once when an object's reference count drops to zero,
// before its fields are released.
type Finalizer func(o *Object)

// Object is a managed object: a typed field bank with an explicit reference
// count. A nil *Object is the null reference; Retain and Release on nil are
// no-ops.
type Object struct {
	Fields Bank

	refs      int
	finalize  Finalizer
	finalized bool
}

// New creates an object with n fields of every element type. The new object
// has no references; the first store retains it.
func New(n int) *Object {
	return &Object{Fields: NewBank(Sizes{n, n, n, n, n})}
}

// NewString creates an object whose char fields hold s.
func NewString(s string) *Object {
	runes := []rune(s)
	o := &Object{Fields: NewBank(Sizes{len(runes), 0, 0, 0, 0})}
	copy(o.Fields.Chars, runes)
	return o
}

// SetFinalizer installs the hook run when the object is finalized.
func (o *Object) SetFinalizer(f Finalizer) {
	o.finalize = f
}

// Len returns the number of fields of the object's widest array.
func (o *Object) Len() int {
	n := 0
	for _, s := range o.Fields.Sizes() {
		if s > n {
			n = s
		}
	}
	return n
}

// String returns the object's char fields as a string.
func (o *Object) String() string {
	if o == nil {
		return "nil"
	}
	return string(o.Fields.Chars)
}

// Refs returns the current reference count.
func (o *Object) Refs() int {
	if o == nil {
		return 0
	}
	return o.refs
}

// Finalized reports whether the object has been finalized.
func (o *Object) Finalized() bool {
	return o != nil && o.finalized
}

// Retain takes a reference.
func (o *Object) Retain() {
	if o == nil {
		return
	}
	o.refs++
}

// Release drops a reference and finalizes the object when none remain.
func (o *Object) Release() {
	if o == nil || o.finalized {
		return
	}
	o.refs--
	if o.refs > 0 {
		return
	}
	o.finalized = true
	if o.finalize != nil {
		o.finalize(o)
	}
	o.Fields.Clear()
}
