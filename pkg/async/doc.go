// Package async runs fire-and-forget background work safely.
//
// SafeGo and GoDetached recover panics, enforce a timeout and log failures with
// the request-scoped logrus logger. Use GoDetached when the task has to finish
// after the HTTP response has been written, such as usage limit notifications.
package async
