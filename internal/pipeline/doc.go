// Package pipeline provides an ordered step sequencer used by the master and
// worker bootstrap flows.
//
// A Pipeline holds a list of steps and a cursor. Steps advance the pipeline
// themselves through the controller operations (Next, Skip, JumpDown, JumpTo,
// Push), which lets a flow branch or loop without nested continuations.
package pipeline
