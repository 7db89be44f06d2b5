// Package grant implements the access request engine: submission, approval
// waiting via polling or streaming delivery, terminal state interpretation,
// and the client-side watchdog that bounds how long a request may stay
// undecided.
package grant
