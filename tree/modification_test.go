package tree_test

import (
	"testing"

	"github.com/jrife/arbor/tree"
)

func TestResolve(t *testing.T) {
	cars := tree.MustParsePath("/cars")
	car1 := tree.MustParsePath("/cars/car-1")
	committed := tree.Container("cars", tree.Container("car-1", tree.Leaf("model", "roadster")))

	testCases := map[string]struct {
		path    tree.Path
		base    *tree.Node
		mods    []tree.Modification
		covered bool
		result  *tree.Node
	}{
		"no-modifications": {
			path:   cars,
			base:   committed,
			result: committed,
		},
		"write-same-path": {
			path:    car1,
			base:    nil,
			mods:    []tree.Modification{tree.Write(car1, tree.Container("car-1"))},
			covered: true,
			result:  tree.Container("car-1"),
		},
		"later-write-wins": {
			path: car1,
			mods: []tree.Modification{
				tree.Write(car1, tree.Container("car-1", tree.Leaf("model", "a"))),
				tree.Write(car1, tree.Container("car-1", tree.Leaf("model", "b"))),
			},
			covered: true,
			result:  tree.Container("car-1", tree.Leaf("model", "b")),
		},
		"write-ancestor": {
			path:    car1.Child("model"),
			mods:    []tree.Modification{tree.Write(cars, committed)},
			covered: true,
			result:  tree.Leaf("model", "roadster"),
		},
		"delete": {
			path:    car1,
			mods:    []tree.Modification{tree.Write(car1, tree.Container("car-1")), tree.Delete(cars)},
			covered: true,
			result:  nil,
		},
		"write-descendant-over-committed": {
			path:    cars,
			base:    committed,
			mods:    []tree.Modification{tree.Write(cars.Child("car-2"), tree.Container("car-2"))},
			covered: false,
			result:  tree.Container("cars", tree.Container("car-1", tree.Leaf("model", "roadster")), tree.Container("car-2")),
		},
		"write-descendant-over-nothing": {
			path:    cars,
			mods:    []tree.Modification{tree.Write(cars.Child("car-2"), tree.Container("car-2"))},
			covered: false,
			result:  tree.Container("cars", tree.Container("car-2")),
		},
		"delete-descendant": {
			path:    cars,
			base:    committed,
			mods:    []tree.Modification{tree.Delete(car1.Child("model"))},
			covered: false,
			result:  tree.Container("cars", &tree.Node{Type: "car-1", Children: map[tree.QName]*tree.Node{}}),
		},
		"merge": {
			path:    car1,
			base:    committed.Child(tree.NewPath("car-1")),
			mods:    []tree.Modification{tree.MergeInto(car1, tree.Container("car-1", tree.Leaf("year", "2012")))},
			covered: false,
			result:  tree.Container("car-1", tree.Leaf("model", "roadster"), tree.Leaf("year", "2012")),
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			if covered := tree.Covered(testCase.path, testCase.mods); covered != testCase.covered {
				t.Fatalf("expected covered to be %t, got %t", testCase.covered, covered)
			}

			result := tree.Resolve(testCase.path, testCase.base, testCase.mods)

			if !tree.Equal(testCase.result, result) {
				t.Fatalf("expected %#v, got %#v", testCase.result, result)
			}
		})
	}
}

func TestSchemaContextValidate(t *testing.T) {
	schema := tree.NewSchemaContext(1, "cars", "people")

	testCases := map[string]struct {
		mod tree.Modification
		ok  bool
	}{
		"valid-write": {
			mod: tree.Write(tree.MustParsePath("/cars"), tree.Container("cars")),
			ok:  true,
		},
		"valid-delete": {
			mod: tree.Delete(tree.MustParsePath("/people/alice")),
			ok:  true,
		},
		"unknown-root": {
			mod: tree.Write(tree.MustParsePath("/boats"), tree.Container("boats")),
		},
		"type-mismatch": {
			mod: tree.Write(tree.MustParsePath("/cars"), tree.Container("people")),
		},
		"nested-type-mismatch": {
			mod: tree.Write(tree.MustParsePath("/cars"), &tree.Node{Type: "cars", Children: map[tree.QName]*tree.Node{"car-1": tree.Container("car-2")}}),
		},
		"missing-node": {
			mod: tree.MergeInto(tree.MustParsePath("/cars"), nil),
		},
		"root-path": {
			mod: tree.Delete(tree.Path{}),
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			err := schema.Validate(testCase.mod)

			if testCase.ok && err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			} else if !testCase.ok && err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}
