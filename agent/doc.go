// Package agent contains the turn state machine and the tool executor.
//
// A turn moves a session through Idle -> Running -> Finished | Error -> Idle:
//
//  1. The user input is appended to the history
//  2. Each step asks the core.Planner for the next action
//  3. A final answer ends the turn; tool calls are run by the Executor and
//     their results appended in call order
//  4. The terminate tool, the step budget, a planner failure or cancellation
//     end the turn
//
// Whatever happens, the session is back in Idle with a zero step counter when
// RunTurn returns. The history is never rewritten.
package agent
