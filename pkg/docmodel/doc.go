// Package docmodel wires engine.Engine to pkg/storage behind a single
// Manager, the one place the rest of PeerVault touches the replicated
// document. It owns path<->node resolution (paths are derived, never
// stored), snapshot persistence, and import/export for sync.
//
// Usage:
//
//	mgr := docmodel.New(engine.New(replicaID), boltAdapter, broker)
//	if err := mgr.Initialize(ctx); err != nil { ... }
//	id, err := mgr.CreateFile("/notes/todo.txt")
//	err = mgr.SetTextContent("/notes/todo.txt", "buy milk")
//	err = mgr.Save(ctx)
package docmodel
