package constants

const WORKER_CONTAINER_PREFIX = "tee-worker-"
const LAS_CONTAINER_PREFIX = "tee-worker-las-"

// task folder layout: <base>/<chainTaskId>/{input,output/iexec_out}
const TASK_INPUT_DIR = "input"
const TASK_OUTPUT_DIR = "output"
const TASK_IEXEC_OUT_DIR = "iexec_out"
const TASK_TEE_POST_COMPUTE_DIR = "tee-post-compute"

const STDOUT_FILE = "stdout.txt"
const STDERR_FILE = "stderr.txt"
const COMPUTED_FILE = "computed.json"
const RESULT_ZIP_FILE = "iexec_out.zip"

// container side paths
const CONTAINER_IEXEC_IN = "/iexec_in"
const CONTAINER_IEXEC_OUT = "/iexec_out"
const CONTAINER_POST_COMPUTE_OUT = "/post-compute-tmp"

const MAX_RESULT_FILE_NAME_LENGTH = 31

const TASK_TOPIC_PREFIX = "/topic/task/"

const REDIS_AUTHORIZATION_PREFIX = "AUTH:"
