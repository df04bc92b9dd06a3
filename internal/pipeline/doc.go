// Package pipeline builds and runs per-request step pipelines.
//
// # Architecture
//
// A request goes through two stages:
//   - Build: the Factory resolves the tenant configuration, evaluates element
//     conditions and instantiates steps from the registry into an ordered
//     phase list.
//   - Run: the Engine walks the phases in order, filters disabled phases and
//     steps, runs the parallel group of each phase concurrently and then the
//     sequential group in order.
//
// # Error policy
//
// Every step failure is recorded in the execution context and reported to
// the sinks. A step whose onError policy is "continue" is then treated as
// if it had succeeded; any other policy aborts the run with an *AbortError
// and no later step executes.
//
// # Configuration shape
//
//	{
//	  "phases": ["pre", "processing", "post"],
//	  "pre": {
//	    "hooksBefore": ["logRequest"],
//	    "steps": [{"name": "auth", "if": "headers.authorization != ''"}],
//	    "hooksAfter": []
//	  },
//	  "processing": {
//	    "steps": [{"name": "enrich", "parallel": true, "configOverride": {"onError": "continue"}}]
//	  },
//	  "disabledPhases": [],
//	  "disabledSteps": []
//	}
package pipeline
