// Package progress reports transfer progress.
//
// A Throttle sits in front of a single transfer and forwards byte counts to
// a callback only once the transferred percentage has advanced past a
// threshold. A Reporter aggregates a batch of transfers and prints a
// periodic status line.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{Tasks: len(products), Workers: 4})
//	reporter.Start()
//	defer reporter.Stop()
//
//	t := progress.NewThrottle(name, size, progress.DefaultThreshold, reporter.Func())
//	io.Copy(io.MultiWriter(file, t), body)
//
// # Output Format
//
//	[sceneslurp] Downloading 12 products with 4 workers
//	[sceneslurp] Tasks: 5/12 done | 1 failed | 4 running | 3.20 GiB | Speed: 41 MiB/s
//	[sceneslurp] Finished 12 tasks (11 ok, 1 failed) | 7.91 GiB in 3m 12s
package progress
