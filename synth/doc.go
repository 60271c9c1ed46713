// Package synth picks the final text of a turn, cleans it into plain text and
// cuts it into chunks for paced delivery.
package synth
