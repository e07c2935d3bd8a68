// Package sched picks which process runs next and for how long.
//
// Policies select over candidates projected from the process table each
// pick; they never touch the table itself. Both provided policies carry
// a fairness bound: a candidate with pending upcalls is passed over at
// most MaxSkips consecutive picks before it must be chosen.
package sched
