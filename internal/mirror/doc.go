// Package mirror keeps a local copy of every hub entity state.
//
// The copy is rebuilt from get_states each time the hub reaches RUNNING on
// a new connection and kept current from state_changed events in between.
// Consumers register with OnChange to hear about every change, including
// the differences a resync uncovers after a reconnect.
//
// History is optional: a Recorder persists changes to the state_history
// table through a HistoryStore, off the event dispatch goroutine.
package mirror
