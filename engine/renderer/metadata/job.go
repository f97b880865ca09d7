package metadata

import "github.com/google/uuid"

/** Definition for the body of a job. */
type JobStart func() (interface{}, error)

/** Definition for completion of a job. */
type JobOnComplete func(result interface{})

/** Definition for failure of a job. */
type JobOnFailure func(err error)

/**
 * @brief Describes a job to be run by the job system.
 */
type JobTask struct {
	/** @brief The unique id of the job, used to correlate log lines. */
	ID uuid.UUID
	/** @brief A short description of the job. */
	Name string
	/** @brief Invoked on a worker when the job starts. Required. */
	OnStart JobStart
	/** @brief Invoked on the worker when the job succeeded. Optional. */
	OnComplete JobOnComplete
	/** @brief Invoked on the worker when the job failed. Optional. */
	OnFailure JobOnFailure
}
