package test

import (
	"fmt"
	"reflect"

	"github.com/stretchr/testify/assert"
)

// T is the part of *testing.T the assertions need.
type T interface {
	assert.TestingT
	Helper()
}

// AssertDeepCopyEqual checks that a and b are equal and share no memory, so a
// change to one can never be seen through the other.
func AssertDeepCopyEqual(t T, a, b any) {
	t.Helper()
	if !assert.Equal(t, a, b) {
		return
	}
	assertNotShared(t, reflect.ValueOf(a), reflect.ValueOf(b), reflect.TypeOf(a).String())
}

func assertNotShared(t T, v1, v2 reflect.Value, path string) {
	t.Helper()
	switch v1.Kind() {
	case reflect.Pointer:
		if v1.IsNil() {
			return
		}
		if v1.Pointer() == v2.Pointer() {
			assert.Fail(t, path+" points to the same memory")
			return
		}
		assertNotShared(t, v1.Elem(), v2.Elem(), path)

	case reflect.Map:
		if v1.IsNil() {
			return
		}
		if v1.Pointer() == v2.Pointer() {
			assert.Fail(t, path+" is the same map")
			return
		}
		iter := v1.MapRange()
		for iter.Next() {
			assertNotShared(t, iter.Value(), v2.MapIndex(iter.Key()), fmt.Sprintf("%s[%v]", path, iter.Key()))
		}

	case reflect.Slice:
		if overlaps(v1, v2) {
			assert.Fail(t, path+" shares its backing array")
			return
		}
		fallthrough

	case reflect.Array:
		for i := 0; i < v1.Len(); i++ {
			assertNotShared(t, v1.Index(i), v2.Index(i), fmt.Sprintf("%s[%d]", path, i))
		}

	case reflect.Interface:
		if !v1.IsNil() {
			assertNotShared(t, v1.Elem(), v2.Elem(), path)
		}

	case reflect.Struct:
		for i := range v1.NumField() {
			assertNotShared(t, v1.Field(i), v2.Field(i), path+"."+v1.Type().Field(i).Name)
		}
	}
}

// overlaps reports whether the backing arrays of two slices share any bytes.
func overlaps(v1, v2 reflect.Value) bool {
	if v1.Cap() == 0 || v2.Cap() == 0 {
		return false
	}
	size := v1.Type().Elem().Size()
	s1, s2 := v1.Pointer(), v2.Pointer()
	return s1 < s2+uintptr(v2.Cap())*size && s2 < s1+uintptr(v1.Cap())*size
}
