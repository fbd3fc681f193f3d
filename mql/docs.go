package mql

import (
	"go.mongodb.org/mongo-driver/bson"
)

// bson.D is used for every emitted document so that field order is
// deterministic on the wire; the helpers below keep the merge code
// readable.

func dGet(d bson.D, key string) (interface{}, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

func dHas(d bson.D, key string) bool {
	_, ok := dGet(d, key)
	return ok
}

// dSet overwrites in place when the key exists, appends otherwise.
func dSet(d bson.D, key string, value interface{}) bson.D {
	for i, e := range d {
		if e.Key == key {
			d[i].Value = value
			return d
		}
	}
	return append(d, bson.E{Key: key, Value: value})
}

// dDrop returns a copy of d without the given key.
func dDrop(d bson.D, key string) bson.D {
	out := bson.D{}
	for _, e := range d {
		if e.Key != key {
			out = append(out, e)
		}
	}
	return out
}

// fieldSet is an insertion ordered field -> condition map used while
// merging per field filter conditions. Output order is an observable
// contract, plain maps cannot serve here. The zero value is ready to use.
type fieldSet struct {
	doc bson.D
	idx map[string]int
}

func (self *fieldSet) get(field string) (interface{}, bool) {
	i, ok := self.idx[field]
	if !ok {
		return nil, false
	}
	return self.doc[i].Value, true
}

func (self *fieldSet) put(field string, cond interface{}) {
	if i, ok := self.idx[field]; ok {
		self.doc[i].Value = cond
		return
	}
	if self.idx == nil {
		self.idx = make(map[string]int)
	}
	self.idx[field] = len(self.doc)
	self.doc = append(self.doc, bson.E{Key: field, Value: cond})
}

// all hands out the accumulated document; the set must not be reused
// afterwards.
func (self *fieldSet) all() bson.D { return self.doc }
