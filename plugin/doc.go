// Package plugin bundles host namespaces so they can be shipped and
// linked together.
//
// A Descriptor names a plugin and lists one ModuleFactory per namespace it
// provides. Instantiate links every namespace into a store, after which
// guests import from them like from any other instance:
//
//	d := &plugin.Descriptor{
//		Name:    "math",
//		Version: "1.0.0",
//		Modules: []plugin.ModuleFactory{{Name: "math", New: newMath}},
//	}
//	insts, err := d.Instantiate(ctx, store)
//
// A YAML manifest can declare the same structure, including the function
// signatures each namespace must export. Manifest.Bind pairs a manifest with
// factories and checks every built namespace against its declaration.
package plugin
