// Command timelinesim runs a demo workload on a timeline session, optionally
// serving it to the monitor and recording its trace.
package main

func main() {
	Execute()
}
