// Package desk drives one connected standing desk.
//
// A Session owns a single transport connection. Commands are serialised,
// preceded by the wake preamble where the desk dialect needs it, and
// followed by a notification window. Notifications are decoded with the
// dialect's sync bytes, folded into cached state and published as typed
// events to at most one Subscription.
package desk
